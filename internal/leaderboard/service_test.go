package leaderboard_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/event"
	"github.com/victornm/certiquest/internal/leaderboard"
	"github.com/victornm/certiquest/internal/memory"
)

// entry is the comparable view of a leaderboard entry.
type entry struct {
	UserID    string
	Name      string
	Total     int64
	Attempted int
	Average   string
	Rank      int
}

func view(es []domain.LeaderboardEntry) []entry {
	out := make([]entry, 0, len(es))
	for _, e := range es {
		out = append(out, entry{
			UserID:    e.UserID,
			Name:      e.DisplayName,
			Total:     e.TotalPoints,
			Attempted: e.QuizzesAttempted,
			Average:   e.AveragePercentage.String(),
			Rank:      e.Rank,
		})
	}
	return out
}

func TestService_Global(t *testing.T) {
	type inputs struct {
		results []domain.QuizResult
		limit   int
	}

	tests := map[string]struct {
		arrange func() inputs
		want    []entry
	}{
		"should rank users by total points across different quizzes": {
			arrange: func() inputs {
				return inputs{results: []domain.QuizResult{
					result("A", 1, 10, 10),
					result("B", 1, 30, 40),
					result("A", 2, 5, 10),
				}}
			},
			want: []entry{
				{UserID: "B", Name: "B", Total: 30, Attempted: 1, Average: "75", Rank: 1},
				{UserID: "A", Name: "A", Total: 15, Attempted: 2, Average: "75", Rank: 2},
			},
		},

		"should count distinct quizzes only": {
			arrange: func() inputs {
				return inputs{results: []domain.QuizResult{
					result("A", 1, 10, 10),
					result("B", 1, 30, 30),
					result("A", 1, 5, 10),
				}}
			},
			want: []entry{
				{UserID: "B", Name: "B", Total: 30, Attempted: 1, Average: "100", Rank: 1},
				{UserID: "A", Name: "A", Total: 15, Attempted: 1, Average: "75", Rank: 2},
			},
		},

		"should keep first appearance order for ties and round averages": {
			arrange: func() inputs {
				return inputs{results: []domain.QuizResult{
					result("C", 1, 1, 3),
					result("D", 1, 1, 3),
				}}
			},
			want: []entry{
				{UserID: "C", Name: "C", Total: 1, Attempted: 1, Average: "33.33", Rank: 1},
				{UserID: "D", Name: "D", Total: 1, Attempted: 1, Average: "33.33", Rank: 2},
			},
		},

		"should truncate to the limit": {
			arrange: func() inputs {
				return inputs{
					results: []domain.QuizResult{
						result("A", 1, 1, 10),
						result("B", 1, 2, 10),
						result("C", 1, 3, 10),
					},
					limit: 2,
				}
			},
			want: []entry{
				{UserID: "C", Name: "C", Total: 3, Attempted: 1, Average: "30", Rank: 1},
				{UserID: "B", Name: "B", Total: 2, Attempted: 1, Average: "20", Rank: 2},
			},
		},

		"should return nothing without results": {
			arrange: func() inputs { return inputs{} },
			want:    []entry{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			db := memory.New()
			insertResults(t, db, in.results...)

			s := makeService(t, withStore(db.Results()))

			got, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{Limit: in.limit})
			require.NoError(t, err)
			require.Equal(t, tt.want, view(got))
		})
	}
}

func TestService_Quiz(t *testing.T) {
	db := memory.New()
	insertResults(t, db,
		result("A", 1, 2, 4),
		result("B", 2, 9, 10),
		result("B", 1, 3, 4),
		result("A", 1, 4, 4),
	)
	s := makeService(t, withStore(db.Results()))

	got, err := s.Quiz(context.Background(), leaderboard.GetQuizLeaderboardRequest{QuizID: 1})
	require.NoError(t, err)
	require.Equal(t, []entry{
		{UserID: "A", Name: "A", Total: 4, Attempted: 1, Average: "100", Rank: 1},
		{UserID: "B", Name: "B", Total: 3, Attempted: 1, Average: "75", Rank: 2},
		{UserID: "A", Name: "A", Total: 2, Attempted: 1, Average: "50", Rank: 3},
	}, view(got))

	_, err = s.Quiz(context.Background(), leaderboard.GetQuizLeaderboardRequest{})
	require.Error(t, err)
}

func TestService_JoinsProfiles(t *testing.T) {
	db := memory.New()
	insertResults(t, db, result("A", 1, 1, 1), result("B", 1, 2, 2))
	s := makeService(t, withStore(db.Results()))

	p, err := s.UpsertProfile(context.Background(), leaderboard.UpsertProfileRequest{
		UserID:      "A",
		DisplayName: " Alice ",
		AvatarURL:   "https://example.com/a.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)

	got, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].DisplayName, "missing profile falls back to the user id")
	assert.Empty(t, got[0].AvatarURL)
	assert.Equal(t, "Alice", got[1].DisplayName)
	assert.Equal(t, "https://example.com/a.png", got[1].AvatarURL)

	_, err = s.UpsertProfile(context.Background(), leaderboard.UpsertProfileRequest{UserID: "A"})
	require.Error(t, err)
}

func TestService_Cache(t *testing.T) {
	db := memory.New()
	eb := event.NewBus()
	insertResults(t, db, result("A", 1, 10, 10))

	s := makeService(t, withStore(db.Results()), withEventBus(eb))

	first, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	late := result("B", 1, 20, 20)
	insertResults(t, db, late)

	cached, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Equal(t, view(first), view(cached), "should serve the cached leaderboard")

	eb.Publish(context.Background(), domain.EventResultSubmitted{Result: late})
	eb.Stop()

	fresh, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "B", fresh[0].UserID)
}

func TestService_WithoutRedis(t *testing.T) {
	db := memory.New()
	insertResults(t, db, result("A", 1, 10, 10))

	s := leaderboard.NewService(leaderboard.Config{Store: db.Results()})

	_, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)

	insertResults(t, db, result("B", 1, 20, 20))

	got, err := s.Global(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, s.Invalidate(context.Background()))
}

var attemptedAt = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

func result(user string, quizID int64, score, total int) domain.QuizResult {
	return domain.QuizResult{
		ID:             fmt.Sprintf("%s-%d-%d", user, quizID, score),
		QuizID:         quizID,
		UserID:         user,
		Score:          score,
		TotalQuestions: total,
		AttemptedAt:    attemptedAt,
	}
}

func insertResults(t *testing.T, db *memory.DB, rs ...domain.QuizResult) {
	t.Helper()

	for _, r := range rs {
		require.NoError(t, db.Results().InsertResult(context.Background(), r))
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    memory.New().Results(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withStore(s leaderboard.Store) options {
	return func(c *leaderboard.Config) {
		c.Store = s
	}
}
