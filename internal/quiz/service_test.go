package quiz_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/event"
	"github.com/victornm/certiquest/internal/memory"
	"github.com/victornm/certiquest/internal/points"
	"github.com/victornm/certiquest/internal/question"
	"github.com/victornm/certiquest/internal/quiz"
	"github.com/victornm/certiquest/internal/score"
)

var now = time.Date(2024, 10, 15, 10, 0, 0, 0, time.UTC)

func TestService_Create(t *testing.T) {
	type outputs struct {
		quiz *domain.Quiz
		err  error
	}

	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture) quiz.CreateQuizRequest
		assert  func(t *testing.T, f *fixture, out outputs)
	}{
		"should create quiz with exactly the requested number of owned questions": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				return createRequest("u1", domain.DifficultyEasy, 3)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.NoError(t, out.err)
				q := out.quiz
				assert.Positive(t, q.ID)
				assert.Equal(t, now, q.CreatedAt)
				assert.Equal(t, time.Date(2024, 10, 22, 0, 0, 0, 0, time.UTC), q.ExpiryDate)
				assert.Equal(t, 1, q.Version)
				require.Len(t, q.Questions(), 3)
				for _, qn := range q.Questions() {
					assert.True(t, qn.Persisted())
					assert.True(t, qn.Attached())
					assert.Equal(t, q.ID, qn.OwnerQuizID())
				}
				assert.Equal(t, 9, f.balance(t, "u1"))

				stored, err := f.db.Quizzes().Get(context.Background(), q.ID)
				require.NoError(t, err)
				assert.Equal(t, q.Questions(), stored.Questions())
			},
		},

		"should draw questions from the pool before generating": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				f.replenish(t, domain.DifficultyEasy, 5)
				return createRequest("u1", domain.DifficultyEasy, 3)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.NoError(t, out.err)
				assert.Zero(t, f.gen.calls(), "pool had enough questions")

				left, err := f.db.Questions().FindUnattached(context.Background(), "science", domain.DifficultyEasy)
				require.NoError(t, err)
				assert.Len(t, left, 2)
			},
		},

		"should fill with placeholders when the generator is down": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				f.gen.err = fmt.Errorf("connection refused")
				return createRequest("u1", domain.DifficultyMedium, 4)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.NoError(t, out.err)
				require.Len(t, out.quiz.Questions(), 4)
				for _, qn := range out.quiz.Questions() {
					assert.True(t, question.IsPlaceholder(qn))
				}
			},
		},

		"should reject basic user requesting 11 questions and keep the point": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				return createRequest("u1", domain.DifficultyEasy, 11)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.True(t, errors.IsQuotaViolation(out.err))
				assert.Equal(t, "count exceeds free-tier limit", errors.Convert(out.err).Message)
				assert.Equal(t, 9, f.balance(t, "u1"), "the debit is not refunded")
			},
		},

		"should reject basic user requesting hard difficulty": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				return createRequest("u1", domain.DifficultyHard, 5)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.True(t, errors.IsQuotaViolation(out.err))
				assert.Equal(t, "difficulty not permitted", errors.Convert(out.err).Message)
			},
		},

		"should reject the sixth quiz of the month for basic user": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				for i := 0; i < 5; i++ {
					_, err := f.s.Create(context.Background(), createRequest("u1", domain.DifficultyEasy, 1))
					require.NoError(t, err)
				}
				return createRequest("u1", domain.DifficultyEasy, 1)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.True(t, errors.IsQuotaViolation(out.err))
				assert.Equal(t, "monthly quota exhausted", errors.Convert(out.err).Message)
				assert.Equal(t, 4, f.balance(t, "u1"))
			},
		},

		"should let premium user create 50 hard questions": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				f.upgrade(t, "u1", domain.PlanPremium)
				return createRequest("u1", domain.DifficultyHard, 50)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.NoError(t, out.err)
				assert.Len(t, out.quiz.Questions(), 50)
			},
		},

		"should fail with insufficient points and create nothing": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				f.drain(t, "u1")
				return createRequest("u1", domain.DifficultyEasy, 3)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.True(t, errors.IsInsufficientPoints(out.err))
				qs, err := f.db.Quizzes().List(context.Background(), "u1")
				require.NoError(t, err)
				assert.Empty(t, qs)
			},
		},

		"should reject invalid request before debiting": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				req := createRequest("u1", domain.DifficultyEasy, 0)
				req.Title = " "
				return req
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.Error(t, out.err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(out.err).Code)
				assert.Equal(t, 10, f.balance(t, "u1"))
			},
		},

		"should reject question count above the pool ceiling before debiting": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				f.upgrade(t, "u1", domain.PlanPremium)
				return createRequest("u1", domain.DifficultyEasy, 101)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.Error(t, out.err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(out.err).Code)
				assert.Equal(t, 10, f.balance(t, "u1"))
				assert.Zero(t, f.gen.calls())
			},
		},

		"should parse difficulty case-insensitively": {
			arrange: func(t *testing.T, f *fixture) quiz.CreateQuizRequest {
				return createRequest("u1", "medium", 2)
			},
			assert: func(t *testing.T, f *fixture, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, domain.DifficultyMedium, out.quiz.Difficulty)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeFixture(t)
			req := tt.arrange(t, f)

			q, err := f.s.Create(context.Background(), req)

			tt.assert(t, f, outputs{quiz: q, err: err})
		})
	}
}

func TestService_Create_ConcurrentMonthlyQuota(t *testing.T) {
	f := makeFixture(t)
	_, err := f.points.Add(context.Background(), points.AddRequest{UserID: "u1", Amount: 10})
	require.NoError(t, err)

	const n = 12
	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		created, refused int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.s.Create(context.Background(), createRequest("u1", domain.DifficultyEasy, 1))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.IsQuotaViolation(err):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	assert.Equal(t, n-5, refused)

	qs, err := f.db.Quizzes().List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, qs, 5)
}

func TestService_FreeOperations(t *testing.T) {
	f := makeFixture(t, func(c *quiz.Config) { c.Costs = &quiz.Costs{} })

	q := f.create(t, "u1", domain.DifficultyEasy, 2)
	_, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
		QuizID:        q.ID,
		Title:         "Renamed",
		Difficulty:    domain.DifficultyEasy,
		QuestionCount: 2,
		ActorID:       "u1",
	})
	require.NoError(t, err)

	_, err = f.s.Submit(context.Background(), quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u1", Answers: []quiz.AnswerRequest{
		{QuestionID: q.Questions()[0].ID, SelectedAnswer: "x"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 10, f.balance(t, "u1"))
}

func TestService_Create_PublishesEvent(t *testing.T) {
	f := makeFixture(t)

	var (
		mu     sync.Mutex
		events []domain.EventQuizCreated
	)
	f.bus.Subscribe(domain.EventNameQuizCreated, func(_ context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventQuizCreated))
		mu.Unlock()
		return nil
	})

	q, err := f.s.Create(context.Background(), createRequest("u1", domain.DifficultyEasy, 2))
	require.NoError(t, err)

	f.bus.Stop()

	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].CreatorID)
	assert.Equal(t, q.ID, events[0].Quiz.ID)
	assert.Len(t, events[0].Quiz.Questions(), 2)
}

func TestService_Update(t *testing.T) {
	t.Run("same difficulty and count keeps every question", func(t *testing.T) {
		f := makeFixture(t)
		q := f.create(t, "u1", domain.DifficultyEasy, 3)
		before := ids(q)

		for i := 0; i < 2; i++ {
			updated, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
				QuizID:        q.ID,
				Title:         fmt.Sprintf("renamed %d", i),
				Difficulty:    domain.DifficultyEasy,
				QuestionCount: 3,
				ActorID:       "u1",
			})
			require.NoError(t, err)
			assert.Equal(t, before, ids(updated))
			assert.Equal(t, fmt.Sprintf("renamed %d", i), updated.Title)
		}

		stored, err := f.db.Quizzes().Get(context.Background(), q.ID)
		require.NoError(t, err)
		assert.Equal(t, before, ids(stored))
		assert.Equal(t, 3, stored.Version)
		assert.Equal(t, 7, f.balance(t, "u1"), "create and two updates")
	})

	t.Run("growing the count keeps current questions and attaches new ones", func(t *testing.T) {
		f := makeFixture(t)
		q := f.create(t, "u1", domain.DifficultyEasy, 3)
		before := ids(q)

		updated, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: q.ID, Title: q.Title, Difficulty: domain.DifficultyEasy, QuestionCount: 5, ActorID: "u1",
		})
		require.NoError(t, err)

		after := ids(updated)
		require.Len(t, after, 5)
		assert.Subset(t, after, before)

		stored, err := f.db.Quizzes().Get(context.Background(), q.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, after, ids(stored))

		again, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: q.ID, Title: q.Title, Difficulty: domain.DifficultyEasy, QuestionCount: 5, ActorID: "u1",
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, after, ids(again))
	})

	t.Run("shrinking the count keeps a subset", func(t *testing.T) {
		f := makeFixture(t)
		q := f.create(t, "u1", domain.DifficultyEasy, 4)
		before := ids(q)

		updated, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: q.ID, Title: q.Title, Difficulty: domain.DifficultyEasy, QuestionCount: 2, ActorID: "u1",
		})
		require.NoError(t, err)
		require.Len(t, updated.Questions(), 2)
		assert.Subset(t, before, ids(updated))

		stored, err := f.db.Quizzes().Get(context.Background(), q.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids(updated), ids(stored))
	})

	t.Run("changing difficulty replaces every question", func(t *testing.T) {
		f := makeFixture(t)
		q := f.create(t, "u1", domain.DifficultyEasy, 3)
		before := ids(q)

		updated, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: q.ID, Title: q.Title, Difficulty: domain.DifficultyMedium, QuestionCount: 3, ActorID: "u1",
		})
		require.NoError(t, err)
		require.Len(t, updated.Questions(), 3)
		for _, id := range ids(updated) {
			assert.NotContains(t, before, id)
		}
		for _, qn := range updated.Questions() {
			assert.Equal(t, domain.DifficultyMedium, qn.Difficulty)
		}

		old, err := f.db.Results().FindQuizQuestions(context.Background(), q.ID, before)
		require.NoError(t, err)
		assert.Empty(t, old, "released questions are deleted")
	})

	t.Run("only the creator may update", func(t *testing.T) {
		f := makeFixture(t)
		q := f.create(t, "u1", domain.DifficultyEasy, 2)

		_, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: q.ID, Title: "hijacked", Difficulty: domain.DifficultyEasy, QuestionCount: 2, ActorID: "u2",
		})
		require.True(t, errors.IsForbidden(err))
		assert.Equal(t, 9, f.balance(t, "u1"))
	})

	t.Run("unknown quiz", func(t *testing.T) {
		f := makeFixture(t)

		_, err := f.s.Update(context.Background(), quiz.UpdateQuizRequest{
			QuizID: 42, Title: "x", Difficulty: domain.DifficultyEasy, QuestionCount: 2, ActorID: "u1",
		})
		require.True(t, errors.IsNotFound(err))
	})
}

func TestService_Delete_KeepsResults(t *testing.T) {
	f := makeFixture(t)
	q := f.create(t, "u1", domain.DifficultyEasy, 2)
	qids := ids(q)

	_, err := f.s.Submit(context.Background(), quiz.SubmitQuizRequest{
		QuizID:  q.ID,
		UserID:  "u1",
		Answers: []quiz.AnswerRequest{{QuestionID: qids[0], SelectedAnswer: q.Questions()[0].CorrectAnswer}},
	})
	require.NoError(t, err)

	err = f.s.Delete(context.Background(), quiz.DeleteQuizRequest{QuizID: q.ID, ActorID: "u2"})
	require.True(t, errors.IsForbidden(err))

	require.NoError(t, f.s.Delete(context.Background(), quiz.DeleteQuizRequest{QuizID: q.ID, ActorID: "u1"}))

	_, err = f.s.Get(context.Background(), quiz.GetQuizRequest{QuizID: q.ID})
	require.True(t, errors.IsNotFound(err))

	left, err := f.db.Results().FindQuizQuestions(context.Background(), q.ID, qids)
	require.NoError(t, err)
	assert.Empty(t, left)

	results, err := f.db.Results().ListResults(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, q.ID, results[0].QuizID)
}

func TestService_Join(t *testing.T) {
	f := makeFixture(t)
	q := f.create(t, "u1", domain.DifficultyEasy, 2)

	for i := 0; i < 3; i++ {
		joined, err := f.s.Join(context.Background(), quiz.JoinQuizRequest{QuizID: q.ID, UserID: "u2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, joined.Participants())
	}

	assert.Equal(t, 10, f.balance(t, "u2"), "joining is free")

	_, err := f.s.Join(context.Background(), quiz.JoinQuizRequest{QuizID: 999, UserID: "u2"})
	require.True(t, errors.IsNotFound(err))
}

func TestService_Submit(t *testing.T) {
	type outputs struct {
		resp *quiz.SubmitQuizResponse
		err  error
	}

	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest
		assert  func(t *testing.T, f *fixture, q *domain.Quiz, out outputs)
	}{
		"participant scores one of two": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				f.join(t, q.ID, "u2")
				qs := q.Questions()
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u2", Answers: []quiz.AnswerRequest{
					{QuestionID: qs[0].ID, SelectedAnswer: qs[0].CorrectAnswer},
					{QuestionID: qs[1].ID, SelectedAnswer: "Wrong"},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 1, out.resp.Score)
				assert.Equal(t, 2, out.resp.Total)
				assert.Equal(t, 9, f.balance(t, "u2"))
			},
		},

		"creator may submit without joining and becomes a participant": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				qs := q.Questions()
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u1", Answers: []quiz.AnswerRequest{
					{QuestionID: qs[0].ID, SelectedAnswer: qs[0].CorrectAnswer},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 1, out.resp.Score)

				stored, err := f.db.Quizzes().Get(context.Background(), q.ID)
				require.NoError(t, err)
				assert.Equal(t, []string{"u1"}, stored.Participants())
			},
		},

		"stranger is forbidden and keeps the balance": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u3", Answers: []quiz.AnswerRequest{
					{QuestionID: q.Questions()[0].ID, SelectedAnswer: "x"},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.True(t, errors.IsForbidden(out.err))
				assert.Equal(t, 10, f.balance(t, "u3"))
			},
		},

		"participant without points": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				f.join(t, q.ID, "u2")
				f.drain(t, "u2")
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u2", Answers: []quiz.AnswerRequest{
					{QuestionID: q.Questions()[0].ID, SelectedAnswer: "x"},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.True(t, errors.IsInsufficientPoints(out.err))
				rs, err := f.db.Results().ListResults(context.Background(), "u2")
				require.NoError(t, err)
				assert.Empty(t, rs)
			},
		},

		"empty submission is rejected before debiting": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				f.join(t, q.ID, "u2")
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u2"}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.Error(t, out.err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(out.err).Code)
				assert.Equal(t, 10, f.balance(t, "u2"))
			},
		},

		"unknown and non-positive question ids score nothing but count toward the total": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				f.join(t, q.ID, "u2")
				qs := q.Questions()
				return quiz.SubmitQuizRequest{QuizID: q.ID, UserID: "u2", Answers: []quiz.AnswerRequest{
					{QuestionID: qs[0].ID, SelectedAnswer: qs[0].CorrectAnswer},
					{QuestionID: 0, SelectedAnswer: "x"},
					{QuestionID: -7, SelectedAnswer: "x"},
					{QuestionID: qs[1].ID + 1000, SelectedAnswer: "x"},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, 1, out.resp.Score)
				assert.Equal(t, 4, out.resp.Total)
			},
		},

		"unknown quiz": {
			arrange: func(t *testing.T, f *fixture, q *domain.Quiz) quiz.SubmitQuizRequest {
				return quiz.SubmitQuizRequest{QuizID: q.ID + 100, UserID: "u2", Answers: []quiz.AnswerRequest{
					{QuestionID: 1, SelectedAnswer: "x"},
				}}
			},
			assert: func(t *testing.T, f *fixture, q *domain.Quiz, out outputs) {
				require.True(t, errors.IsNotFound(out.err))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeFixture(t)
			q := f.create(t, "u1", domain.DifficultyEasy, 2)
			req := tt.arrange(t, f, q)

			resp, err := f.s.Submit(context.Background(), req)

			tt.assert(t, f, q, outputs{resp: resp, err: err})
		})
	}
}

func TestService_Submit_ConcurrentWithSinglePoint(t *testing.T) {
	f := makeFixture(t)
	q := f.create(t, "u1", domain.DifficultyEasy, 1)
	f.join(t, q.ID, "u2")
	f.drain(t, "u2")
	_, err := f.points.Add(context.Background(), points.AddRequest{UserID: "u2", Amount: 1})
	require.NoError(t, err)

	const n = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, denied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.s.Submit(context.Background(), quiz.SubmitQuizRequest{
				QuizID:  q.ID,
				UserID:  "u2",
				Answers: []quiz.AnswerRequest{{QuestionID: q.Questions()[0].ID, SelectedAnswer: "x"}},
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.IsInsufficientPoints(err):
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, denied)
	assert.Equal(t, 0, f.balance(t, "u2"))
}

func TestService_List(t *testing.T) {
	f := makeFixture(t)
	first := f.create(t, "u1", domain.DifficultyEasy, 1)
	f.create(t, "u2", domain.DifficultyEasy, 1)

	all, err := f.s.List(context.Background(), quiz.ListQuizzesRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.s.List(context.Background(), quiz.ListQuizzesRequest{CreatedBy: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	f.clock = now.AddDate(0, 0, 8)
	active, err := f.s.List(context.Background(), quiz.ListQuizzesRequest{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.True(t, f.s.IsExpired(first))
}

type fixture struct {
	s      *quiz.Service
	db     *memory.DB
	points *points.Service
	bus    *event.Bus
	gen    *fakeGenerator
	clock  time.Time
}

func makeFixture(t *testing.T, opts ...func(*quiz.Config)) *fixture {
	t.Helper()

	f := &fixture{
		db:    memory.New(),
		bus:   event.NewBus(),
		gen:   &fakeGenerator{},
		clock: now,
	}
	clock := func() time.Time { return f.clock }

	f.points = points.NewService(points.Config{Store: f.db.Points()})
	c := quiz.Config{
		Store:  f.db.Quizzes(),
		Points: f.points,
		Questions: question.NewService(question.Config{
			Store:     f.db.Questions(),
			Generator: f.gen,
		}),
		Score:    score.NewService(score.Config{Store: f.db.Results(), Now: clock}),
		EventBus: f.bus,
		Now:      clock,
	}
	for _, opt := range opts {
		opt(&c)
	}
	f.s = quiz.NewService(c)

	t.Cleanup(f.bus.Stop)

	return f
}

func (f *fixture) create(t *testing.T, userID string, d domain.Difficulty, n int) *domain.Quiz {
	t.Helper()

	q, err := f.s.Create(context.Background(), createRequest(userID, d, n))
	require.NoError(t, err)
	return q
}

func (f *fixture) join(t *testing.T, quizID int64, userID string) {
	t.Helper()

	_, err := f.s.Join(context.Background(), quiz.JoinQuizRequest{QuizID: quizID, UserID: userID})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()

	up, err := f.points.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	return up.Balance
}

func (f *fixture) drain(t *testing.T, userID string) {
	t.Helper()

	b := f.balance(t, userID)
	_, err := f.points.Consume(context.Background(), points.ConsumeRequest{UserID: userID, Amount: b})
	require.NoError(t, err)
}

func (f *fixture) upgrade(t *testing.T, userID string, plan domain.Plan) {
	t.Helper()

	_, err := f.points.Add(context.Background(), points.AddRequest{UserID: userID, Plan: &plan})
	require.NoError(t, err)
}

func (f *fixture) replenish(t *testing.T, d domain.Difficulty, n int) {
	t.Helper()

	qs := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, domain.Question{
			Text:          fmt.Sprintf("pool question %d", i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "a",
			Category:      "science",
			Difficulty:    d,
		})
	}
	_, err := f.db.Questions().InsertUnattached(context.Background(), qs)
	require.NoError(t, err)
}

func createRequest(userID string, d domain.Difficulty, n int) quiz.CreateQuizRequest {
	return quiz.CreateQuizRequest{
		Title:         "Weekly science",
		Category:      "science",
		Difficulty:    d,
		QuestionCount: n,
		CreatedBy:     userID,
	}
}

func ids(q *domain.Quiz) []int64 {
	out := make([]int64, 0, len(q.Questions()))
	for _, qn := range q.Questions() {
		out = append(out, qn.ID)
	}
	return out
}

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	n     int
	count int
}

func (g *fakeGenerator) Generate(_ context.Context, req question.GenerateRequest) ([]question.GeneratedQuestion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if g.err != nil {
		return nil, g.err
	}

	out := make([]question.GeneratedQuestion, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		g.count++
		out = append(out, question.GeneratedQuestion{
			Text:          fmt.Sprintf("%s %s question %d", req.Category, req.Difficulty, g.count),
			Options:       []string{"right", "wrong 1", "wrong 2", "wrong 3"},
			CorrectAnswer: "right",
		})
	}
	return out, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
