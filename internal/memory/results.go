package memory

import (
	"context"
	"sort"

	"github.com/victornm/certiquest/internal/domain"
)

// ResultStore serves quiz results, the question lookups used for scoring and leaderboard aggregation.
type ResultStore struct {
	db *DB
}

func (s *ResultStore) FindQuizQuestions(_ context.Context, quizID int64, ids []int64) (map[int64]domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make(map[int64]domain.Question, len(ids))
	for _, id := range ids {
		if r, ok := s.db.questions[id]; ok && r.quizID == quizID {
			out[id] = cloneQuestion(r.question)
		}
	}

	return out, nil
}

func (s *ResultStore) InsertResult(_ context.Context, r domain.QuizResult) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.results = append(s.db.results, r)
	return nil
}

func (s *ResultStore) ListResults(_ context.Context, userID string) ([]domain.QuizResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.QuizResult
	for _, r := range s.db.results {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })

	return out, nil
}

// GlobalStandings groups results by user in order of first attempt and sorts by total points.
func (s *ResultStore) GlobalStandings(_ context.Context, limit int) ([]domain.Standing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	type agg struct {
		standing   domain.Standing
		quizzes    map[int64]struct{}
		percentSum float64
		attempts   int
	}

	var (
		order []string
		byUser = make(map[string]*agg)
	)
	for _, r := range s.db.results {
		a, ok := byUser[r.UserID]
		if !ok {
			a = &agg{standing: domain.Standing{UserID: r.UserID}, quizzes: make(map[int64]struct{})}
			byUser[r.UserID] = a
			order = append(order, r.UserID)
		}
		a.standing.TotalPoints += int64(r.Score)
		a.quizzes[r.QuizID] = struct{}{}
		a.percentSum += percentage(r)
		a.attempts++
	}

	out := make([]domain.Standing, 0, len(order))
	for _, u := range order {
		a := byUser[u]
		a.standing.QuizzesAttempted = len(a.quizzes)
		a.standing.Percentage = a.percentSum / float64(a.attempts)
		out = append(out, a.standing)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalPoints > out[j].TotalPoints })

	return truncate(out, limit), nil
}

func (s *ResultStore) QuizStandings(_ context.Context, quizID int64, limit int) ([]domain.Standing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Standing
	for _, r := range s.db.results {
		if r.QuizID != quizID {
			continue
		}
		out = append(out, domain.Standing{
			UserID:           r.UserID,
			TotalPoints:      int64(r.Score),
			QuizzesAttempted: 1,
			Percentage:       percentage(r),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalPoints > out[j].TotalPoints })

	return truncate(out, limit), nil
}

func (s *ResultStore) UpsertProfile(_ context.Context, p domain.Profile) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.profiles[p.UserID] = p
	return nil
}

func (s *ResultStore) Profiles(_ context.Context, userIDs []string) (map[string]domain.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make(map[string]domain.Profile, len(userIDs))
	for _, u := range userIDs {
		if p, ok := s.db.profiles[u]; ok {
			out[u] = p
		}
	}

	return out, nil
}

func percentage(r domain.QuizResult) float64 {
	if r.TotalQuestions <= 0 {
		return 0
	}
	return float64(r.Score) * 100 / float64(r.TotalQuestions)
}

func truncate(s []domain.Standing, limit int) []domain.Standing {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
