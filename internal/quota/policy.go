// Package quota decides whether a plan permits a requested quiz shape.
package quota

import (
	"slices"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/telemetry"
)

const (
	ReasonCountExceeded     = "count exceeds free-tier limit"
	ReasonDifficultyDenied  = "difficulty not permitted"
	ReasonMonthlyQuotaSpent = "monthly quota exhausted"
)

// Limits restricts the quizzes of a plan. Zero values mean unlimited.
type Limits struct {
	MaxQuestions       int
	DeniedDifficulties []domain.Difficulty
	MonthlyQuizzes     int
}

// DefaultLimits only restricts BASIC. Plans missing from the table fall back to BASIC.
var DefaultLimits = map[domain.Plan]Limits{
	domain.PlanBasic: {
		MaxQuestions:       10,
		DeniedDifficulties: []domain.Difficulty{domain.DifficultyHard},
		MonthlyQuizzes:     5,
	},
	domain.PlanPremium:  {},
	domain.PlanUltimate: {},
}

type Policy struct {
	limits map[domain.Plan]Limits
}

// NewPolicy returns a policy over the given table, or DefaultLimits when it is nil.
func NewPolicy(limits map[domain.Plan]Limits) *Policy {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Policy{limits: limits}
}

type Request struct {
	Plan             domain.Plan
	Difficulty       domain.Difficulty
	QuestionCount    int
	CreatedThisMonth int
}

// Validate checks the rules in order and reports only the first violation.
func (p *Policy) Validate(req Request) error {
	l := p.Limits(req.Plan)

	var reason string
	switch {
	case l.MaxQuestions > 0 && req.QuestionCount > l.MaxQuestions:
		reason = ReasonCountExceeded
	case slices.Contains(l.DeniedDifficulties, req.Difficulty):
		reason = ReasonDifficultyDenied
	case l.MonthlyQuizzes > 0 && req.CreatedThisMonth >= l.MonthlyQuizzes:
		reason = ReasonMonthlyQuotaSpent
	default:
		return nil
	}

	telemetry.QuotaViolations.WithLabelValues(string(req.Plan)).Inc()
	return errors.QuotaViolation(reason)
}

func (p *Policy) Limits(plan domain.Plan) Limits {
	if l, ok := p.limits[plan]; ok {
		return l
	}
	return p.limits[domain.PlanBasic]
}
