package memory

import (
	"context"

	"github.com/victornm/certiquest/internal/domain"
)

type PointsStore struct {
	db *DB
}

func (s *PointsStore) GetOrCreate(_ context.Context, init domain.UserPoints) (domain.UserPoints, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.getOrCreateLocked(init), nil
}

func (s *PointsStore) Consume(_ context.Context, userID string, amount int) (domain.UserPoints, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	up, ok := s.db.points[userID]
	if !ok || up.Balance < amount {
		return up, false, nil
	}

	up.Balance -= amount
	s.db.points[userID] = up
	return up, true, nil
}

func (s *PointsStore) Add(_ context.Context, init domain.UserPoints, amount int, plan *domain.Plan) (domain.UserPoints, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	up := s.getOrCreateLocked(init)
	up.Balance += amount
	if plan != nil {
		up.Plan = *plan
	}
	s.db.points[up.UserID] = up
	return up, nil
}

func (s *PointsStore) getOrCreateLocked(init domain.UserPoints) domain.UserPoints {
	if up, ok := s.db.points[init.UserID]; ok {
		return up
	}
	s.db.points[init.UserID] = init
	return init
}
