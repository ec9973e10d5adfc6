package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
)

const (
	quizColumns = `id, title, category, difficulty, created_by, created_at, expiry_date, question_count, version`

	codeForeignKeyViolation = "23503"
)

type QuizStore struct {
	db *DB
}

func (s *QuizStore) Create(ctx context.Context, q *domain.Quiz) error {
	const (
		insQuizStmt = `
INSERT INTO quizzes (title, category, difficulty, created_by, created_at, expiry_date, question_count, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
RETURNING id;`
		insParticipantStmt = `INSERT INTO quiz_participants (quiz_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`
	)

	var (
		id          int64
		questions   = q.Questions()
		questionIDs = make([]int64, len(questions))
	)

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insQuizStmt,
			q.Title, q.Category, string(q.Difficulty), q.CreatedBy, q.CreatedAt, q.ExpiryDate, q.QuestionCount,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}

		for pos, question := range questions {
			if questionIDs[pos], err = claimOrInsertQuestion(ctx, tx, question, id, pos); err != nil {
				return err
			}
		}

		for _, u := range q.Participants() {
			if _, err := tx.Exec(ctx, insParticipantStmt, id, u); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	q.AssignID(id)
	for pos, qid := range questionIDs {
		q.AssignQuestionID(pos, qid)
	}
	q.Version = 1

	return nil
}

func (s *QuizStore) Get(ctx context.Context, id int64) (*domain.Quiz, error) {
	var quizzes []*domain.Quiz

	err := s.db.inTx(ctx, snapshot, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1;`, id)
		if err != nil {
			return fmt.Errorf("query quiz: %w", err)
		}

		quizzes, err = loadQuizzes(ctx, tx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(quizzes) == 0 {
		return nil, errors.QuizNotFound(id)
	}

	return quizzes[0], nil
}

func (s *QuizStore) List(ctx context.Context, createdBy string) ([]domain.Quiz, error) {
	const stmt = `SELECT ` + quizColumns + ` FROM quizzes WHERE $1 = '' OR created_by = $1 ORDER BY id DESC;`

	var quizzes []*domain.Quiz

	err := s.db.inTx(ctx, snapshot, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, stmt, createdBy)
		if err != nil {
			return fmt.Errorf("query quizzes: %w", err)
		}

		quizzes, err = loadQuizzes(ctx, tx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Quiz, 0, len(quizzes))
	for _, q := range quizzes {
		out = append(out, *q)
	}

	return out, nil
}

func (s *QuizStore) Update(ctx context.Context, q *domain.Quiz, diff domain.QuestionDiff) error {
	const (
		updQuizStmt = `
UPDATE quizzes SET title = $2, difficulty = $3, question_count = $4, version = version + 1
WHERE id = $1 AND version = $5;`
		existsStmt      = `SELECT EXISTS (SELECT 1 FROM quizzes WHERE id = $1);`
		delQuestionStmt = `DELETE FROM quiz_questions WHERE quiz_id = $1 AND id = ANY($2);`
		nextPosStmt     = `SELECT COALESCE(MAX(position) + 1, 0) FROM quiz_questions WHERE quiz_id = $1;`
	)

	var (
		questions   = q.Questions()
		questionIDs = make([]int64, len(diff.Attached))
	)

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updQuizStmt, q.ID, q.Title, string(q.Difficulty), q.QuestionCount, q.Version)
		if err != nil {
			return fmt.Errorf("update quiz: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, existsStmt, q.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check quiz: %w", err)
			}
			if !exists {
				return errors.QuizNotFound(q.ID)
			}
			return errors.New(errors.CodeAborted, errors.WithMessagef("quiz %d was modified concurrently", q.ID))
		}

		if len(diff.Detached) > 0 {
			if _, err := tx.Exec(ctx, delQuestionStmt, q.ID, diff.Detached); err != nil {
				return fmt.Errorf("delete questions: %w", err)
			}
		}

		if len(diff.Attached) == 0 {
			return nil
		}

		var next int
		if err := tx.QueryRow(ctx, nextPosStmt, q.ID).Scan(&next); err != nil {
			return fmt.Errorf("next position: %w", err)
		}

		for i, pos := range diff.Attached {
			if questionIDs[i], err = claimOrInsertQuestion(ctx, tx, questions[pos], q.ID, next+i); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for i, pos := range diff.Attached {
		q.AssignQuestionID(pos, questionIDs[i])
	}
	q.Version++

	return nil
}

func (s *QuizStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.QuizNotFound(id)
	}

	return nil
}

func (s *QuizStore) AddParticipant(ctx context.Context, quizID int64, userID string) (bool, error) {
	const stmt = `INSERT INTO quiz_participants (quiz_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`

	tag, err := s.db.pool.Exec(ctx, stmt, quizID, userID)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return false, errors.QuizNotFound(quizID)
	}

	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *QuizStore) CountCreated(ctx context.Context, userID string, from, to time.Time) (int, error) {
	const stmt = `SELECT COUNT(*) FROM quizzes WHERE created_by = $1 AND created_at >= $2 AND created_at < $3;`

	var n int
	if err := s.db.pool.QueryRow(ctx, stmt, userID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quizzes: %w", err)
	}

	return n, nil
}

// loadQuizzes scans quiz rows and attaches their questions and participants.
func loadQuizzes(ctx context.Context, tx pgx.Tx, rows pgx.Rows) ([]*domain.Quiz, error) {
	quizzes, err := pgx.CollectRows(rows, scanQuiz)
	if err != nil {
		return nil, fmt.Errorf("scan quizzes: %w", err)
	}

	if len(quizzes) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(quizzes))
	byID := make(map[int64]*domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		ids = append(ids, q.ID)
		byID[q.ID] = q
	}

	const questionStmt = `
SELECT quiz_id, ` + questionColumns + `
FROM quiz_questions
WHERE quiz_id = ANY($1)
ORDER BY quiz_id, position, id;`

	qrows, err := tx.Query(ctx, questionStmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	_, err = pgx.CollectRows(qrows, func(row pgx.CollectableRow) (struct{}, error) {
		var (
			quizID     int64
			q          domain.Question
			difficulty string
		)
		if err := row.Scan(&quizID, &q.ID, &q.Text, &q.Options, &q.CorrectAnswer, &q.Category, &difficulty); err != nil {
			return struct{}{}, err
		}
		q.Difficulty = domain.Difficulty(difficulty)
		byID[quizID].Attach(q)
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan questions: %w", err)
	}

	const participantStmt = `
SELECT quiz_id, user_id
FROM quiz_participants
WHERE quiz_id = ANY($1)
ORDER BY quiz_id, joined_at, user_id;`

	prows, err := tx.Query(ctx, participantStmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}

	_, err = pgx.CollectRows(prows, func(row pgx.CollectableRow) (struct{}, error) {
		var (
			quizID int64
			userID string
		)
		if err := row.Scan(&quizID, &userID); err != nil {
			return struct{}{}, err
		}
		byID[quizID].AddParticipant(userID)
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan participants: %w", err)
	}

	return quizzes, nil
}

func scanQuiz(row pgx.CollectableRow) (*domain.Quiz, error) {
	var (
		q          domain.Quiz
		difficulty string
	)
	err := row.Scan(&q.ID, &q.Title, &q.Category, &difficulty, &q.CreatedBy, &q.CreatedAt, &q.ExpiryDate, &q.QuestionCount, &q.Version)
	if err != nil {
		return nil, err
	}
	q.Difficulty = domain.Difficulty(difficulty)
	return &q, nil
}
