package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/certiquest/internal/domain"
)

const questionColumns = `id, question_text, options, correct_answer, category, difficulty`

type QuestionStore struct {
	db *DB
}

func (s *QuestionStore) FindUnattached(ctx context.Context, category string, difficulty domain.Difficulty) ([]domain.Question, error) {
	const stmt = `
SELECT ` + questionColumns + `
FROM quiz_questions
WHERE quiz_id IS NULL AND category = $1 AND difficulty = $2
ORDER BY id;`

	rows, err := s.db.pool.Query(ctx, stmt, category, string(difficulty))
	if err != nil {
		return nil, fmt.Errorf("query pool questions: %w", err)
	}

	return pgx.CollectRows(rows, scanQuestion)
}

func (s *QuestionStore) InsertUnattached(ctx context.Context, questions []domain.Question) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(questions))

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, q := range questions { // TODO: Batch insert
			id, err := insertQuestion(ctx, tx, q, nil, 0)
			if err != nil {
				return err
			}

			stored := domain.Question{
				ID:            id,
				Text:          q.Text,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				Category:      q.Category,
				Difficulty:    q.Difficulty,
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func insertQuestion(ctx context.Context, tx pgx.Tx, q domain.Question, quizID *int64, position int) (int64, error) {
	const stmt = `
INSERT INTO quiz_questions (question_text, options, correct_answer, category, difficulty, quiz_id, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id;`

	var id int64
	err := tx.QueryRow(ctx, stmt, q.Text, q.Options, q.CorrectAnswer, q.Category, string(q.Difficulty), quizID, position).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	return id, nil
}

// claimOrInsertQuestion moves a pool question into the quiz. A new row is stored when the question is
// new or another quiz claimed it first.
func claimOrInsertQuestion(ctx context.Context, tx pgx.Tx, q domain.Question, quizID int64, position int) (int64, error) {
	if q.Persisted() {
		const stmt = `UPDATE quiz_questions SET quiz_id = $1, position = $2 WHERE id = $3 AND quiz_id IS NULL;`

		tag, err := tx.Exec(ctx, stmt, quizID, position, q.ID)
		if err != nil {
			return 0, fmt.Errorf("claim question %d: %w", q.ID, err)
		}
		if tag.RowsAffected() == 1 {
			return q.ID, nil
		}
	}

	return insertQuestion(ctx, tx, q, &quizID, position)
}

func scanQuestion(row pgx.CollectableRow) (domain.Question, error) {
	var (
		q          domain.Question
		difficulty string
	)
	if err := row.Scan(&q.ID, &q.Text, &q.Options, &q.CorrectAnswer, &q.Category, &difficulty); err != nil {
		return domain.Question{}, err
	}
	q.Difficulty = domain.Difficulty(difficulty)
	return q, nil
}
