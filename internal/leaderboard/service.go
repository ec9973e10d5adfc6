package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/event"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	defaultCacheTTL = 30 * time.Second
)

// Store aggregates results. Standings are ordered by total points descending; ties keep the order
// in which users first appear in the results.
type Store interface {
	GlobalStandings(ctx context.Context, limit int) ([]domain.Standing, error)
	QuizStandings(ctx context.Context, quizID int64, limit int) ([]domain.Standing, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error)
	UpsertProfile(ctx context.Context, p domain.Profile) error
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	// Redis caches computed leaderboards. Leaderboards are computed on every call when it is nil.
	Redis        redis.UniversalClient
	Prefix       string
	CacheTTL     time.Duration
	DefaultLimit int
}

type Service struct {
	store        Store
	redis        redis.UniversalClient
	prefix       string
	ttl          time.Duration
	defaultLimit int
	group        singleflight.Group
}

func NewService(c Config) *Service {
	s := &Service{
		store:        c.Store,
		redis:        c.Redis,
		prefix:       c.Prefix,
		ttl:          c.CacheTTL,
		defaultLimit: c.DefaultLimit,
	}

	if s.ttl <= 0 {
		s.ttl = defaultCacheTTL
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = DefaultLimit
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameResultSubmitted, func(ctx context.Context, _ event.Event) error {
			return s.Invalidate(ctx)
		})
	}

	return s
}

type GetLeaderboardRequest struct {
	Limit int
}

// Global ranks all users by the sum of their scores.
func (s *Service) Global(ctx context.Context, req GetLeaderboardRequest) ([]domain.LeaderboardEntry, error) {
	limit := s.limit(req.Limit)

	return s.cached(ctx, fmt.Sprintf("global:%d", limit), func(ctx context.Context) ([]domain.Standing, error) {
		return s.store.GlobalStandings(ctx, limit)
	})
}

type GetQuizLeaderboardRequest struct {
	QuizID int64
	Limit  int
}

// Quiz ranks every result of a quiz by its score. A user appears once per attempt.
func (s *Service) Quiz(ctx context.Context, req GetQuizLeaderboardRequest) ([]domain.LeaderboardEntry, error) {
	if req.QuizID <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid quiz id: %d", req.QuizID))
	}
	limit := s.limit(req.Limit)

	return s.cached(ctx, fmt.Sprintf("quiz:%d:%d", req.QuizID, limit), func(ctx context.Context) ([]domain.Standing, error) {
		return s.store.QuizStandings(ctx, req.QuizID, limit)
	})
}

type UpsertProfileRequest struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// UpsertProfile stores the display data shown next to a user on leaderboards.
func (s *Service) UpsertProfile(ctx context.Context, req UpsertProfileRequest) (*domain.Profile, error) {
	p := domain.Profile{
		UserID:      req.UserID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		AvatarURL:   strings.TrimSpace(req.AvatarURL),
	}
	if p.UserID == "" || p.DisplayName == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id and display name are required"))
	}

	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}

	if err := s.Invalidate(ctx); err != nil {
		slog.WarnContext(ctx, "leaderboard: invalidate cache failed", "error", err)
	}

	return &p, nil
}

// Invalidate drops every cached leaderboard by moving to a new cache generation.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}

	if err := s.redis.Incr(ctx, s.generationKey()).Err(); err != nil {
		return fmt.Errorf("incr leaderboard generation: %w", err)
	}

	return nil
}

func (s *Service) cached(
	ctx context.Context,
	scope string,
	compute func(ctx context.Context) ([]domain.Standing, error),
) ([]domain.LeaderboardEntry, error) {
	key, cacheable := s.cacheKey(ctx, scope)

	if cacheable {
		if entries, ok := s.load(ctx, key); ok {
			return entries, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		standings, err := compute(ctx)
		if err != nil {
			return nil, fmt.Errorf("compute leaderboard: %w", err)
		}

		entries, err := s.rank(ctx, standings)
		if err != nil {
			return nil, err
		}

		if cacheable {
			s.save(ctx, key, entries)
		}

		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]domain.LeaderboardEntry), nil
}

// rank numbers standings in order and joins profiles. Users without a profile are shown by id.
func (s *Service) rank(ctx context.Context, standings []domain.Standing) ([]domain.LeaderboardEntry, error) {
	ids := make([]string, 0, len(standings))
	for _, st := range standings {
		ids = append(ids, st.UserID)
	}

	profiles, err := s.store.Profiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(standings))
	for i, st := range standings {
		e := domain.LeaderboardEntry{
			UserID:            st.UserID,
			DisplayName:       st.UserID,
			TotalPoints:       st.TotalPoints,
			QuizzesAttempted:  st.QuizzesAttempted,
			AveragePercentage: decimal.NewFromFloat(st.Percentage).Round(2),
			Rank:              i + 1,
		}
		if p, ok := profiles[st.UserID]; ok {
			e.DisplayName, e.AvatarURL = p.DisplayName, p.AvatarURL
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (s *Service) load(ctx context.Context, key string) ([]domain.LeaderboardEntry, bool) {
	b, err := s.redis.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "leaderboard: read cache failed", "key", key, "error", err)
		return nil, false
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		slog.WarnContext(ctx, "leaderboard: decode cache failed", "key", key, "error", err)
		return nil, false
	}

	return entries, true
}

func (s *Service) save(ctx context.Context, key string, entries []domain.LeaderboardEntry) {
	b, err := json.Marshal(entries)
	if err != nil {
		slog.WarnContext(ctx, "leaderboard: encode cache failed", "key", key, "error", err)
		return
	}

	if err := s.redis.Set(ctx, key, b, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "leaderboard: write cache failed", "key", key, "error", err)
	}
}

// cacheKey scopes the key to the current cache generation. The result is not cacheable without Redis
// or when the generation cannot be read.
func (s *Service) cacheKey(ctx context.Context, scope string) (string, bool) {
	if s.redis == nil {
		return scope, false
	}

	gen, err := s.redis.Get(ctx, s.generationKey()).Int64()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "leaderboard: read cache generation failed", "error", err)
		return scope, false
	}

	return fmt.Sprintf("%s:leaderboard:%d:%s", s.prefix, gen, scope), true
}

func (s *Service) generationKey() string {
	return fmt.Sprintf("%s:leaderboard:gen", s.prefix)
}

func (s *Service) limit(n int) int {
	switch {
	case n <= 0:
		return s.defaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
