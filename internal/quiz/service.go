package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/event"
	"github.com/victornm/certiquest/internal/points"
	"github.com/victornm/certiquest/internal/question"
	"github.com/victornm/certiquest/internal/quota"
	"github.com/victornm/certiquest/internal/score"
)

const defaultTTL = 7 * 24 * time.Hour

// Store persists quizzes together with their attached questions and participants. Create, Update and
// Delete must be atomic at the quiz granularity.
type Store interface {
	// Create assigns ids to the quiz and its questions. Persisted pool questions are claimed by the quiz.
	Create(ctx context.Context, q *domain.Quiz) error
	Get(ctx context.Context, id int64) (*domain.Quiz, error)
	// List returns quizzes created by the user, or all quizzes when createdBy is empty, newest first.
	List(ctx context.Context, createdBy string) ([]domain.Quiz, error)
	// Update writes the quiz columns and applies diff. It fails with CodeAborted when q.Version is stale
	// and increments q.Version on success.
	Update(ctx context.Context, q *domain.Quiz, diff domain.QuestionDiff) error
	// Delete removes the quiz, its questions and participants. Results are kept.
	Delete(ctx context.Context, id int64) error
	// AddParticipant reports whether the user was added.
	AddParticipant(ctx context.Context, quizID int64, userID string) (bool, error)
	// CountCreated counts the quizzes created by the user in [from, to).
	CountCreated(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// Costs are the points debited per operation.
type Costs struct {
	Create int
	Update int
	Submit int
}

var DefaultCosts = Costs{Create: 1, Update: 1, Submit: 1}

type Config struct {
	Store     Store
	Points    *points.Service
	Questions *question.Service
	Quota     *quota.Policy
	Score     *score.Service
	EventBus  *event.Bus
	// Costs defaults to DefaultCosts when nil.
	Costs *Costs
	// TTL is the lifetime of a quiz, counted from its creation.
	TTL time.Duration
	Now func() time.Time
}

type Service struct {
	store     Store
	points    *points.Service
	questions *question.Service
	quota     *quota.Policy
	score     *score.Service
	eb        *event.Bus
	costs     Costs
	ttl       time.Duration
	now       func() time.Time

	// mu guards pending, the creates per user that passed the monthly quota but are not stored yet.
	mu      sync.Mutex
	pending map[string]int
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		points:    c.Points,
		questions: c.Questions,
		quota:     c.Quota,
		score:     c.Score,
		eb:        c.EventBus,
		costs:     DefaultCosts,
		ttl:       c.TTL,
		now:       c.Now,
		pending:   make(map[string]int),
	}

	if c.Costs != nil {
		s.costs = *c.Costs
	}

	if s.quota == nil {
		s.quota = quota.NewPolicy(nil)
	}
	if s.eb == nil {
		s.eb = event.NewBus()
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type CreateQuizRequest struct {
	Title         string            `validate:"required,max=255"`
	Category      string            `validate:"required,max=100"`
	Difficulty    domain.Difficulty `validate:"required"`
	QuestionCount int               `validate:"gt=0"`
	CreatedBy     string            `validate:"required"`
}

// Create debits the creator, checks the plan quota and composes a quiz from pool questions.
// The point is not refunded when a later step fails.
func (s *Service) Create(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	req.Title, req.Category = strings.TrimSpace(req.Title), strings.TrimSpace(req.Category)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	difficulty, err := parseDifficulty(req.Difficulty)
	if err != nil {
		return nil, err
	}

	if err := s.validateCount(req.QuestionCount); err != nil {
		return nil, err
	}

	balance, err := s.points.Consume(ctx, points.ConsumeRequest{
		UserID:    req.CreatedBy,
		Amount:    s.costs.Create,
		Operation: "create",
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	release, err := s.reserveCreate(ctx, now, quota.Request{
		Plan:          balance.Plan,
		Difficulty:    difficulty,
		QuestionCount: req.QuestionCount,
	}, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer release()

	questions, err := s.questions.GetOrGenerate(ctx, question.Request{
		Category:   req.Category,
		Difficulty: difficulty,
		Count:      req.QuestionCount,
	})
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}

	q := &domain.Quiz{
		Title:         req.Title,
		Category:      req.Category,
		Difficulty:    difficulty,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		ExpiryDate:    domain.Date(now.Add(s.ttl)),
		QuestionCount: req.QuestionCount,
	}
	for _, qn := range questions {
		q.Attach(qn)
	}

	if err := s.store.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}

	slog.InfoContext(ctx, "quiz: created",
		"quiz", q.ID, "user", q.CreatedBy, "category", q.Category, "difficulty", q.Difficulty, "count", q.QuestionCount)

	s.eb.Publish(ctx, domain.EventQuizCreated{Quiz: q.Clone(), CreatorID: q.CreatedBy})

	return q, nil
}

// reserveCreate checks the plan quota against the quizzes stored this month plus the creates of the
// same user still in flight, and holds a slot until release is called.
func (s *Service) reserveCreate(ctx context.Context, now time.Time, req quota.Request, userID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := domain.MonthRange(now)
	created, err := s.store.CountCreated(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count created quizzes: %w", err)
	}

	req.CreatedThisMonth = created + s.pending[userID]
	if err := s.quota.Validate(req); err != nil {
		slog.InfoContext(ctx, "quiz: quota violation", "user", userID, "plan", req.Plan, "error", err)
		return nil, err
	}

	s.pending[userID]++

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.pending[userID]--
		if s.pending[userID] <= 0 {
			delete(s.pending, userID)
		}
	}, nil
}

func (s *Service) validateCount(n int) error {
	if limit := s.questions.MaxCount(); n > limit {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question count must not exceed %d: %d", limit, n))
	}
	return nil
}

type UpdateQuizRequest struct {
	QuizID        int64             `validate:"gt=0"`
	Title         string            `validate:"required,max=255"`
	Difficulty    domain.Difficulty `validate:"required"`
	QuestionCount int               `validate:"gt=0"`
	// ActorID must be the creator when set. The creator pays for the update.
	ActorID string
}

// Update always rewrites the title. A changed difficulty or question count reconciles the question set.
func (s *Service) Update(ctx context.Context, req UpdateQuizRequest) (*domain.Quiz, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	difficulty, err := parseDifficulty(req.Difficulty)
	if err != nil {
		return nil, err
	}

	if err := s.validateCount(req.QuestionCount); err != nil {
		return nil, err
	}

	q, err := s.store.Get(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	if req.ActorID != "" && req.ActorID != q.CreatedBy {
		return nil, errors.Forbidden("only the creator can update quiz %d", q.ID)
	}

	balance, err := s.points.Consume(ctx, points.ConsumeRequest{
		UserID:    q.CreatedBy,
		Amount:    s.costs.Update,
		Operation: "update",
	})
	if err != nil {
		return nil, err
	}

	if err := s.quota.Validate(quota.Request{
		Plan:          balance.Plan,
		Difficulty:    difficulty,
		QuestionCount: req.QuestionCount,
	}); err != nil {
		return nil, err
	}

	q.Title = req.Title

	var diff domain.QuestionDiff
	if difficulty != q.Difficulty || req.QuestionCount != q.QuestionCount {
		fetched, err := s.questions.GetOrGenerate(ctx, question.Request{
			Category:   q.Category,
			Difficulty: difficulty,
			Count:      req.QuestionCount,
			Reuse:      q.Questions(),
		})
		if err != nil {
			return nil, fmt.Errorf("get questions: %w", err)
		}

		q.Difficulty, q.QuestionCount = difficulty, req.QuestionCount
		diff = Reconcile(q, fetched)
	}

	if err := s.store.Update(ctx, q, diff); err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}

	slog.InfoContext(ctx, "quiz: updated",
		"quiz", q.ID, "detached", len(diff.Detached), "attached", len(diff.Attached), "version", q.Version)

	s.eb.Publish(ctx, domain.EventQuizUpdated{Quiz: q.Clone(), CreatorID: q.CreatedBy})

	return q, nil
}

type DeleteQuizRequest struct {
	QuizID  int64  `validate:"gt=0"`
	ActorID string `validate:"required"`
}

// Delete removes a quiz and its questions. Results of the quiz stay queryable.
func (s *Service) Delete(ctx context.Context, req DeleteQuizRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}

	q, err := s.store.Get(ctx, req.QuizID)
	if err != nil {
		return err
	}

	if req.ActorID != q.CreatedBy {
		return errors.Forbidden("only the creator can delete quiz %d", q.ID)
	}

	if err := s.store.Delete(ctx, q.ID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}

	slog.InfoContext(ctx, "quiz: deleted", "quiz", q.ID, "user", req.ActorID)

	s.eb.Publish(ctx, domain.EventQuizDeleted{QuizID: q.ID, CreatorID: q.CreatedBy})

	return nil
}

type JoinQuizRequest struct {
	QuizID int64  `validate:"gt=0"`
	UserID string `validate:"required"`
}

// Join adds the user to the participants. Joining twice changes nothing.
func (s *Service) Join(ctx context.Context, req JoinQuizRequest) (*domain.Quiz, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	q, err := s.store.Get(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	if q.HasParticipant(req.UserID) {
		return q, nil
	}

	if _, err := s.store.AddParticipant(ctx, q.ID, req.UserID); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	q.AddParticipant(req.UserID)

	slog.InfoContext(ctx, "quiz: joined", "quiz", q.ID, "user", req.UserID)

	return q, nil
}

type AnswerRequest struct {
	QuestionID     int64
	SelectedAnswer string
}

type SubmitQuizRequest struct {
	QuizID  int64           `validate:"gt=0"`
	UserID  string          `validate:"required"`
	Answers []AnswerRequest `validate:"required,min=1,dive"`
}

type SubmitQuizResponse struct {
	Result domain.QuizResult
	Score  int
	Total  int
}

// Submit debits the user and scores the answers. Only participants and the creator may submit.
// The point is not refunded when scoring fails.
func (s *Service) Submit(ctx context.Context, req SubmitQuizRequest) (*SubmitQuizResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	q, err := s.store.Get(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	if !q.HasParticipant(req.UserID) && q.CreatedBy != req.UserID {
		return nil, errors.Forbidden("user %s has not joined quiz %d", req.UserID, q.ID)
	}

	if _, err := s.points.Consume(ctx, points.ConsumeRequest{
		UserID:    req.UserID,
		Amount:    s.costs.Submit,
		Operation: "submit",
	}); err != nil {
		return nil, err
	}

	answers := make([]domain.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, domain.Answer{QuestionID: a.QuestionID, SelectedAnswer: a.SelectedAnswer})
	}

	resp, err := s.score.Evaluate(ctx, score.EvaluateRequest{
		QuizID:  q.ID,
		UserID:  req.UserID,
		Answers: answers,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AddParticipant(ctx, q.ID, req.UserID); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}

	s.eb.Publish(ctx, domain.EventResultSubmitted{Result: resp.Result})

	return &SubmitQuizResponse{
		Result: resp.Result,
		Score:  resp.Result.Score,
		Total:  resp.Result.TotalQuestions,
	}, nil
}

type GetQuizRequest struct {
	QuizID int64 `validate:"gt=0"`
}

func (s *Service) Get(ctx context.Context, req GetQuizRequest) (*domain.Quiz, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	return s.store.Get(ctx, req.QuizID)
}

type ListQuizzesRequest struct {
	CreatedBy string
	// ActiveOnly drops expired quizzes.
	ActiveOnly bool
}

func (s *Service) List(ctx context.Context, req ListQuizzesRequest) ([]domain.Quiz, error) {
	qs, err := s.store.List(ctx, req.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}

	if !req.ActiveOnly {
		return qs, nil
	}

	now := s.now()
	active := qs[:0]
	for _, q := range qs {
		if !q.IsExpired(now) {
			active = append(active, q)
		}
	}

	return active, nil
}

// IsExpired reports whether the quiz is past its expiry date today.
func (s *Service) IsExpired(q *domain.Quiz) bool {
	return q.IsExpired(s.now())
}

func parseDifficulty(d domain.Difficulty) (domain.Difficulty, error) {
	parsed, err := domain.ParseDifficulty(string(d))
	if err != nil {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err))
	}
	return parsed, nil
}
