package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/certiquest/internal/domain"
)

type PointsStore struct {
	db *DB
}

func (s *PointsStore) GetOrCreate(ctx context.Context, init domain.UserPoints) (domain.UserPoints, error) {
	const insStmt = `INSERT INTO user_points (user_id, balance, plan) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING;`

	if _, err := s.db.pool.Exec(ctx, insStmt, init.UserID, init.Balance, string(init.Plan)); err != nil {
		return domain.UserPoints{}, fmt.Errorf("insert user points: %w", err)
	}

	return s.get(ctx, init.UserID)
}

// Consume is a single conditional update, so concurrent debits can never drive the balance negative.
func (s *PointsStore) Consume(ctx context.Context, userID string, amount int) (domain.UserPoints, bool, error) {
	const stmt = `
UPDATE user_points
SET balance = balance - $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING user_id, balance, plan;`

	up, err := scanPoints(s.db.pool.QueryRow(ctx, stmt, userID, amount))
	if stderrors.Is(err, pgx.ErrNoRows) {
		current, err := s.get(ctx, userID)
		if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
			return domain.UserPoints{}, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return domain.UserPoints{}, false, fmt.Errorf("consume points: %w", err)
	}

	return up, true, nil
}

func (s *PointsStore) Add(ctx context.Context, init domain.UserPoints, amount int, plan *domain.Plan) (domain.UserPoints, error) {
	const stmt = `
INSERT INTO user_points (user_id, balance, plan)
VALUES ($1, $2::int + $3::int, COALESCE($4::text, $5::text))
ON CONFLICT (user_id) DO UPDATE
SET balance = user_points.balance + $3::int, plan = COALESCE($4::text, user_points.plan), updated_at = now()
RETURNING user_id, balance, plan;`

	var newPlan *string
	if plan != nil {
		p := string(*plan)
		newPlan = &p
	}

	up, err := scanPoints(s.db.pool.QueryRow(ctx, stmt, init.UserID, init.Balance, amount, newPlan, string(init.Plan)))
	if err != nil {
		return domain.UserPoints{}, fmt.Errorf("add points: %w", err)
	}

	return up, nil
}

func (s *PointsStore) get(ctx context.Context, userID string) (domain.UserPoints, error) {
	const stmt = `SELECT user_id, balance, plan FROM user_points WHERE user_id = $1;`

	return scanPoints(s.db.pool.QueryRow(ctx, stmt, userID))
}

func scanPoints(row pgx.Row) (domain.UserPoints, error) {
	var (
		up   domain.UserPoints
		plan string
	)
	if err := row.Scan(&up.UserID, &up.Balance, &plan); err != nil {
		return domain.UserPoints{}, err
	}
	up.Plan = domain.Plan(plan)
	return up, nil
}
