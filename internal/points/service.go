package points

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/telemetry"
)

const DefaultBalance = 10

// Store persists user balances. Consume must be a single atomic conditional decrement.
type Store interface {
	// GetOrCreate returns the record of the user, inserting init if none exists.
	// Concurrent calls for the same user must not create duplicates.
	GetOrCreate(ctx context.Context, init domain.UserPoints) (domain.UserPoints, error)
	// Consume decrements the balance by amount only if balance >= amount.
	// It returns the resulting record and whether the decrement happened.
	Consume(ctx context.Context, userID string, amount int) (domain.UserPoints, bool, error)
	// Add increments the balance, creating the record from init if needed, and overwrites the plan when plan is set.
	Add(ctx context.Context, init domain.UserPoints, amount int, plan *domain.Plan) (domain.UserPoints, error)
}

type Config struct {
	Store          Store
	DefaultBalance int
}

type Service struct {
	store          Store
	defaultBalance int
}

func NewService(c Config) *Service {
	if c.DefaultBalance <= 0 {
		c.DefaultBalance = DefaultBalance
	}

	return &Service{
		store:          c.Store,
		defaultBalance: c.DefaultBalance,
	}
}

// GetOrCreate returns the points of a user, creating them with the default balance on BASIC plan.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*domain.UserPoints, error) {
	if userID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}

	up, err := s.store.GetOrCreate(ctx, s.initial(userID))
	if err != nil {
		return nil, fmt.Errorf("get or create points: %w", err)
	}

	return &up, nil
}

type ConsumeRequest struct {
	UserID string
	Amount int
	// Operation labels the debit in logs and metrics.
	Operation string
}

type ConsumeResponse struct {
	Balance int
	Plan    domain.Plan
}

// Consume debits the balance of a user. It fails with InsufficientPoints without changing the balance
// when the balance is lower than the amount.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	if req.Amount < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("amount must not be negative: %d", req.Amount))
	}

	if _, err := s.GetOrCreate(ctx, req.UserID); err != nil {
		return nil, err
	}

	up, ok, err := s.store.Consume(ctx, req.UserID, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("consume points: %w", err)
	}

	if !ok {
		telemetry.PointsRejected.WithLabelValues(req.Operation).Inc()
		slog.InfoContext(ctx, "points: insufficient balance",
			"user", req.UserID, "operation", req.Operation, "balance", up.Balance, "required", req.Amount)
		return nil, errors.InsufficientPoints(up.Balance, req.Amount)
	}

	telemetry.PointsConsumed.WithLabelValues(req.Operation).Add(float64(req.Amount))
	slog.InfoContext(ctx, "points: consumed",
		"user", req.UserID, "operation", req.Operation, "amount", req.Amount, "balance", up.Balance)

	return &ConsumeResponse{Balance: up.Balance, Plan: up.Plan}, nil
}

type AddRequest struct {
	UserID string
	Amount int
	// Plan overwrites the stored plan when set, e.g. after a successful payment.
	Plan *domain.Plan
}

// Add credits points to a user.
func (s *Service) Add(ctx context.Context, req AddRequest) (*domain.UserPoints, error) {
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id is required"))
	}
	if req.Amount < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("amount must not be negative: %d", req.Amount))
	}

	up, err := s.store.Add(ctx, s.initial(req.UserID), req.Amount, req.Plan)
	if err != nil {
		return nil, fmt.Errorf("add points: %w", err)
	}

	slog.InfoContext(ctx, "points: added",
		"user", req.UserID, "amount", req.Amount, "balance", up.Balance, "plan", up.Plan)

	return &up, nil
}

func (s *Service) initial(userID string) domain.UserPoints {
	return domain.UserPoints{
		UserID:  userID,
		Balance: s.defaultBalance,
		Plan:    domain.PlanBasic,
	}
}
