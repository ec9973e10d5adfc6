package score

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/telemetry"
)

type Store interface {
	// FindQuizQuestions returns the questions with the given ids that are attached to the quiz, keyed by id.
	FindQuizQuestions(ctx context.Context, quizID int64, ids []int64) (map[int64]domain.Question, error)
	InsertResult(ctx context.Context, r domain.QuizResult) error
	// ListResults returns the results of a user, latest first.
	ListResults(ctx context.Context, userID string) ([]domain.QuizResult, error)
}

type Config struct {
	Store Store
	Now   func() time.Time
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type EvaluateRequest struct {
	QuizID  int64
	UserID  string
	Answers []domain.Answer
}

type EvaluateResponse struct {
	Result domain.QuizResult
}

// Evaluate scores a submission and persists it as a result. Answers referencing unknown questions score
// nothing but still count toward the total, which is the number of submitted answers.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if len(req.Answers) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("at least one answer is required"))
	}

	ids := make([]int64, 0, len(req.Answers))
	for _, a := range req.Answers {
		ids = append(ids, a.QuestionID)
	}

	questions, err := s.store.FindQuizQuestions(ctx, req.QuizID, ids)
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate result ID: %w", err)
	}

	r := domain.QuizResult{
		ID:             id.String(),
		QuizID:         req.QuizID,
		UserID:         req.UserID,
		Score:          Score(questions, req.Answers),
		TotalQuestions: len(req.Answers),
		AttemptedAt:    s.now(),
	}

	if err := s.store.InsertResult(ctx, r); err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	telemetry.Submissions.Observe(float64(r.Score) * 100 / float64(r.TotalQuestions))
	slog.InfoContext(ctx, "score: submission evaluated",
		"quiz", r.QuizID, "user", r.UserID, "score", r.Score, "total", r.TotalQuestions)

	return &EvaluateResponse{Result: r}, nil
}

// Score counts the answers matching the correct answer of their question, ignoring case.
func Score(questions map[int64]domain.Question, answers []domain.Answer) int {
	score := 0
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(a.SelectedAnswer), strings.TrimSpace(q.CorrectAnswer)) {
			score++
		}
	}
	return score
}

type ListResultsRequest struct {
	UserID string
}

func (s *Service) ListResults(ctx context.Context, req ListResultsRequest) ([]domain.QuizResult, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	rs, err := s.store.ListResults(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	return rs, nil
}
