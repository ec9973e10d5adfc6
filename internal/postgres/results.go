package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/certiquest/internal/domain"
)

type ResultStore struct {
	db *DB
}

func (s *ResultStore) FindQuizQuestions(ctx context.Context, quizID int64, ids []int64) (map[int64]domain.Question, error) {
	const stmt = `SELECT ` + questionColumns + ` FROM quiz_questions WHERE quiz_id = $1 AND id = ANY($2);`

	rows, err := s.db.pool.Query(ctx, stmt, quizID, ids)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]domain.Question, len(qs))
	for _, q := range qs {
		out[q.ID] = q
	}

	return out, nil
}

func (s *ResultStore) InsertResult(ctx context.Context, r domain.QuizResult) error {
	const stmt = `
INSERT INTO quiz_results (id, quiz_id, user_id, score, total_questions, attempted_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	if _, err := s.db.pool.Exec(ctx, stmt, r.ID, r.QuizID, r.UserID, r.Score, r.TotalQuestions, r.AttemptedAt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	return nil
}

func (s *ResultStore) ListResults(ctx context.Context, userID string) ([]domain.QuizResult, error) {
	const stmt = `
SELECT id::text, quiz_id, user_id, score, total_questions, attempted_at
FROM quiz_results
WHERE user_id = $1
ORDER BY attempted_at DESC;`

	rows, err := s.db.pool.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.QuizResult, error) {
		var r domain.QuizResult
		err := row.Scan(&r.ID, &r.QuizID, &r.UserID, &r.Score, &r.TotalQuestions, &r.AttemptedAt)
		return r, err
	})
}

func (s *ResultStore) GlobalStandings(ctx context.Context, limit int) ([]domain.Standing, error) {
	const stmt = `
SELECT user_id,
       SUM(score)::bigint,
       COUNT(DISTINCT quiz_id)::int,
       AVG(CASE WHEN total_questions > 0 THEN score * 100.0 / total_questions ELSE 0 END)::float8
FROM quiz_results
GROUP BY user_id
ORDER BY 2 DESC, MIN(attempted_at), user_id
LIMIT $1;`

	return s.standings(ctx, stmt, limit)
}

func (s *ResultStore) QuizStandings(ctx context.Context, quizID int64, limit int) ([]domain.Standing, error) {
	const stmt = `
SELECT user_id,
       score::bigint,
       1,
       (CASE WHEN total_questions > 0 THEN score * 100.0 / total_questions ELSE 0 END)::float8
FROM quiz_results
WHERE quiz_id = $2
ORDER BY score DESC, attempted_at, id
LIMIT $1;`

	return s.standings(ctx, stmt, limit, quizID)
}

func (s *ResultStore) standings(ctx context.Context, stmt string, limit int, args ...any) ([]domain.Standing, error) {
	rows, err := s.db.pool.Query(ctx, stmt, append([]any{limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Standing, error) {
		var st domain.Standing
		err := row.Scan(&st.UserID, &st.TotalPoints, &st.QuizzesAttempted, &st.Percentage)
		return st, err
	})
}

func (s *ResultStore) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	const stmt = `SELECT user_id, display_name, avatar_url FROM profiles WHERE user_id = ANY($1);`

	rows, err := s.db.pool.Query(ctx, stmt, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}

	ps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Profile, error) {
		var p domain.Profile
		err := row.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL)
		return p, err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.Profile, len(ps))
	for _, p := range ps {
		out[p.UserID] = p
	}

	return out, nil
}

func (s *ResultStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	const stmt = `
INSERT INTO profiles (user_id, display_name, avatar_url) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url;`

	if _, err := s.db.pool.Exec(ctx, stmt, p.UserID, p.DisplayName, p.AvatarURL); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	return nil
}
