package question

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/telemetry"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxCount = 100
)

var (
	// ErrGenerationUnavailable means the generator failed, timed out or returned nothing.
	ErrGenerationUnavailable = stderrors.New("question generation unavailable")
	// ErrMalformedQuestion means a generated question cannot be turned into a valid question.
	ErrMalformedQuestion = stderrors.New("malformed generated question")
)

// Store is the durable pool of unattached questions.
type Store interface {
	// FindUnattached returns every question of the category and difficulty that belongs to no quiz.
	FindUnattached(ctx context.Context, category string, difficulty domain.Difficulty) ([]domain.Question, error)
	// InsertUnattached persists questions into the pool and returns them with their ids.
	InsertUnattached(ctx context.Context, questions []domain.Question) ([]domain.Question, error)
}

// Generator is the external question generation service.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]GeneratedQuestion, error)
}

type GenerateRequest struct {
	Category   string
	Difficulty domain.Difficulty
	Count      int
}

// GeneratedQuestion is the raw shape returned by a Generator.
type GeneratedQuestion struct {
	Text          string
	Options       []string
	CorrectAnswer string
}

type Config struct {
	Store     Store
	Generator Generator
	// Timeout bounds a single generator call.
	Timeout time.Duration
	// MaxCount caps the number of questions a single request may ask for.
	MaxCount int
	// NewRand returns the random source of a single sampling call.
	NewRand func() *rand.Rand
}

type Service struct {
	store     Store
	generator Generator
	timeout   time.Duration
	maxCount  int
	newRand   func() *rand.Rand
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		generator: c.Generator,
		timeout:   c.Timeout,
		maxCount:  c.MaxCount,
		newRand:   c.NewRand,
	}

	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}

	if s.maxCount <= 0 {
		s.maxCount = defaultMaxCount
	}

	if s.newRand == nil {
		s.newRand = func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}

	return s
}

// MaxCount is the largest Count a single request may ask for.
func (s *Service) MaxCount() int { return s.maxCount }

type Request struct {
	Category   string
	Difficulty domain.Difficulty
	Count      int
	// Reuse are questions the caller already owns that may be selected alongside pool questions.
	// Only those matching Category and Difficulty are considered.
	Reuse []domain.Question
}

func (r Request) validate(maxCount int) error {
	if strings.TrimSpace(r.Category) == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("category is required"))
	}
	if _, err := domain.ParseDifficulty(string(r.Difficulty)); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err))
	}
	if r.Count <= 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("count must be greater than zero: %d", r.Count))
	}
	if r.Count > maxCount {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("count must not exceed %d: %d", maxCount, r.Count))
	}
	return nil
}

// GetOrGenerate returns exactly req.Count questions. When the pool holds enough candidates it returns
// a uniform random sample of them, otherwise all candidates followed by freshly generated questions.
// The pool is never modified; attaching the returned questions is up to the caller.
func (s *Service) GetOrGenerate(ctx context.Context, req Request) ([]domain.Question, error) {
	if err := req.validate(s.maxCount); err != nil {
		return nil, err
	}

	cached, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(cached) >= req.Count {
		telemetry.QuestionsServed.WithLabelValues("cache").Add(float64(req.Count))
		return sample(s.newRand(), cached, req.Count), nil
	}

	telemetry.QuestionsServed.WithLabelValues("cache").Add(float64(len(cached)))
	generated := s.generate(ctx, req.Category, req.Difficulty, req.Count-len(cached))

	return append(cached, generated...), nil
}

// GenerateFresh returns req.Count newly generated questions without looking at the pool.
func (s *Service) GenerateFresh(ctx context.Context, req Request) ([]domain.Question, error) {
	if err := req.validate(s.maxCount); err != nil {
		return nil, err
	}

	return s.generate(ctx, req.Category, req.Difficulty, req.Count), nil
}

// Replenish generates fresh questions and stores them in the pool as unattached questions.
func (s *Service) Replenish(ctx context.Context, req Request) ([]domain.Question, error) {
	qs, err := s.GenerateFresh(ctx, req)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.InsertUnattached(ctx, qs)
	if err != nil {
		return nil, fmt.Errorf("insert pool questions: %w", err)
	}

	slog.InfoContext(ctx, "question: pool replenished",
		"category", req.Category, "difficulty", req.Difficulty, "count", len(stored))

	return stored, nil
}

func (s *Service) candidates(ctx context.Context, req Request) ([]domain.Question, error) {
	pool, err := s.store.FindUnattached(ctx, req.Category, req.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("find pool questions: %w", err)
	}

	for _, q := range req.Reuse {
		if q.Persisted() && q.Category == req.Category && q.Difficulty == req.Difficulty {
			pool = append(pool, q)
		}
	}

	return pool, nil
}

// generate always returns n valid questions, substituting placeholders for anything the generator
// could not deliver.
func (s *Service) generate(ctx context.Context, category string, difficulty domain.Difficulty, n int) []domain.Question {
	raw, err := s.callGenerator(ctx, GenerateRequest{Category: category, Difficulty: difficulty, Count: n})
	if err != nil {
		telemetry.GenerationFailures.WithLabelValues("unavailable").Inc()
		slog.WarnContext(ctx, "question: generator failed, using placeholders",
			"category", category, "difficulty", difficulty, "count", n, "error", err)
	}

	var (
		out          []domain.Question
		placeholders int
	)

	for i := 0; i < n; i++ {
		if i < len(raw) {
			q, err := sanitize(raw[i], category, difficulty)
			if err == nil {
				out = append(out, q)
				continue
			}

			telemetry.GenerationFailures.WithLabelValues("malformed").Inc()
			slog.WarnContext(ctx, "question: discarded generated question",
				"category", category, "difficulty", difficulty, "error", err)
		}

		out = append(out, placeholder(category, difficulty, i+1))
		placeholders++
	}

	telemetry.QuestionsServed.WithLabelValues("generated").Add(float64(n - placeholders))
	telemetry.QuestionsServed.WithLabelValues("placeholder").Add(float64(placeholders))

	return out
}

func (s *Service) callGenerator(ctx context.Context, req GenerateRequest) ([]GeneratedQuestion, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", ErrGenerationUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrGenerationUnavailable)
	}

	return raw, nil
}

// sample picks n distinct elements uniformly at random with a partial Fisher-Yates shuffle.
func sample(r *rand.Rand, qs []domain.Question, n int) []domain.Question {
	for i := 0; i < n; i++ {
		j := i + r.IntN(len(qs)-i)
		qs[i], qs[j] = qs[j], qs[i]
	}
	return qs[:n:n]
}
