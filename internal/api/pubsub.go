package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	QuizDeleted struct {
		QuizID int64 `json:"quizId"`
	}
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type NotifierConfig struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
}

// Notifier forwards quiz events to Redis channels: every event goes to <prefix>:quiz-events, and to
// <prefix>:user:<id> of each user it concerns.
type Notifier struct {
	redis  Redis
	prefix string
}

func NewNotifier(c NotifierConfig) *Notifier {
	n := &Notifier{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameQuizCreated, func(ctx context.Context, e event.Event) error {
		return n.PublishQuizCreated(ctx, e.(domain.EventQuizCreated))
	})
	c.EventBus.Subscribe(domain.EventNameQuizUpdated, func(ctx context.Context, e event.Event) error {
		return n.PublishQuizUpdated(ctx, e.(domain.EventQuizUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameQuizDeleted, func(ctx context.Context, e event.Event) error {
		return n.PublishQuizDeleted(ctx, e.(domain.EventQuizDeleted))
	})
	c.EventBus.Subscribe(domain.EventNameResultSubmitted, func(ctx context.Context, e event.Event) error {
		return n.PublishResultSubmitted(ctx, e.(domain.EventResultSubmitted))
	})

	return n
}

func (n *Notifier) PublishQuizCreated(ctx context.Context, e domain.EventQuizCreated) error {
	data := toQuiz(&e.Quiz, "", false)
	return n.broadcast(ctx, e.Name(), data, e.CreatorID)
}

// PublishQuizUpdated notifies the creator and every participant.
func (n *Notifier) PublishQuizUpdated(ctx context.Context, e domain.EventQuizUpdated) error {
	data := toQuiz(&e.Quiz, "", false)
	users := append([]string{e.CreatorID}, e.Quiz.Participants()...)
	return n.broadcast(ctx, e.Name(), data, users...)
}

func (n *Notifier) PublishQuizDeleted(ctx context.Context, e domain.EventQuizDeleted) error {
	return n.broadcast(ctx, e.Name(), QuizDeleted{QuizID: e.QuizID}, e.CreatorID)
}

func (n *Notifier) PublishResultSubmitted(ctx context.Context, e domain.EventResultSubmitted) error {
	return n.broadcast(ctx, e.Name(), toResult(e.Result), e.Result.UserID)
}

func (n *Notifier) broadcast(ctx context.Context, event string, data any, users ...string) error {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return n.redis.Publish(ctx, n.QuizEventsChannel(), b).Err()
	})

	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true

		eg.Go(func() error {
			return n.redis.Publish(ctx, n.UserChannel(u), b).Err()
		})
	}

	return eg.Wait()
}

func (n *Notifier) QuizEventsChannel() string {
	return fmt.Sprintf("%s:quiz-events", n.prefix)
}

func (n *Notifier) UserChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", n.prefix, user)
}
