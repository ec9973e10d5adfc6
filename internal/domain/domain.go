package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanBasic    Plan = "BASIC"
	PlanPremium  Plan = "PREMIUM"
	PlanUltimate Plan = "ULTIMATE"
)

// ParsePlan parses a plan name case-insensitively.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToUpper(strings.TrimSpace(s))); p {
	case PlanBasic, PlanPremium, PlanUltimate:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// ParseDifficulty parses a difficulty name case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToUpper(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// UserPoints is the point balance and plan of a user.
type UserPoints struct {
	UserID  string
	Balance int
	Plan    Plan
}

// Profile holds the display data of a user shown on leaderboards.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// OptionCount is the number of options every question carries.
const OptionCount = 4

// Question is a multiple-choice question. A question with ID 0 has not been persisted yet.
// Its owner is set only by Quiz.Attach and cleared by Quiz.Detach.
type Question struct {
	ID            int64
	Text          string
	Options       []string
	CorrectAnswer string
	Category      string
	Difficulty    Difficulty

	ownerQuizID int64
	attached    bool
}

// OwnerQuizID returns the quiz owning the question, or 0 for pool questions.
func (q Question) OwnerQuizID() int64 { return q.ownerQuizID }

// Attached reports whether the question belongs to a quiz.
func (q Question) Attached() bool { return q.attached }

// Persisted reports whether the question has a persistent identity.
func (q Question) Persisted() bool { return q.ID > 0 }

// Quiz is the quiz aggregate. It exclusively owns its attached questions.
type Quiz struct {
	ID            int64
	Title         string
	Category      string
	Difficulty    Difficulty
	CreatedBy     string
	CreatedAt     time.Time
	ExpiryDate    time.Time
	QuestionCount int
	// Version increases with every update and guards concurrent edits.
	Version int

	questions    []Question
	participants []string
}

// Questions returns a copy of the attached questions in order.
func (q *Quiz) Questions() []Question {
	return slices.Clone(q.questions)
}

// Participants returns a copy of the participant ids in join order.
func (q *Quiz) Participants() []string {
	return slices.Clone(q.participants)
}

// Attach takes ownership of the question and appends it.
func (q *Quiz) Attach(question Question) Question {
	question.ownerQuizID = q.ID
	question.attached = true
	q.questions = append(q.questions, question)
	return question
}

// Detach releases the persisted question with the given id.
func (q *Quiz) Detach(id int64) (Question, bool) {
	for i, question := range q.questions {
		if question.Persisted() && question.ID == id {
			q.questions = slices.Delete(q.questions, i, i+1)
			question.ownerQuizID, question.attached = 0, false
			return question, true
		}
	}
	return Question{}, false
}

// DetachAll releases every attached question.
func (q *Quiz) DetachAll() []Question {
	detached := q.questions
	q.questions = nil
	for i := range detached {
		detached[i].ownerQuizID, detached[i].attached = 0, false
	}
	return detached
}

// AssignID sets the quiz identity after it is persisted and re-points attached questions.
func (q *Quiz) AssignID(id int64) {
	q.ID = id
	for i := range q.questions {
		q.questions[i].ownerQuizID = id
	}
}

// AssignQuestionID sets the persistent identity of the question at position pos.
func (q *Quiz) AssignQuestionID(pos int, id int64) {
	q.questions[pos].ID = id
}

// HasParticipant reports whether the user joined the quiz.
func (q *Quiz) HasParticipant(userID string) bool {
	return slices.Contains(q.participants, userID)
}

// AddParticipant appends the user unless already present. It reports whether the set changed.
func (q *Quiz) AddParticipant(userID string) bool {
	if q.HasParticipant(userID) {
		return false
	}
	q.participants = append(q.participants, userID)
	return true
}

// IsExpired reports whether the calendar day of now is after the expiry date.
func (q *Quiz) IsExpired(now time.Time) bool {
	return Date(now).After(Date(q.ExpiryDate))
}

// Clone returns a deep copy safe to hand to other goroutines.
func (q *Quiz) Clone() Quiz {
	c := *q
	c.questions = make([]Question, len(q.questions))
	for i, question := range q.questions {
		question.Options = slices.Clone(question.Options)
		c.questions[i] = question
	}
	c.participants = slices.Clone(q.participants)
	return c
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthRange returns [first day of t's month, first day of next month) in UTC.
func MonthRange(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.UTC().Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// QuestionDiff is the change set produced when the question set of a quiz is reconciled.
type QuestionDiff struct {
	// Detached holds ids of previously attached questions that must be deleted.
	Detached []int64
	// Attached holds positions in Quiz.Questions of newly attached questions.
	Attached []int
}

// Empty reports whether the diff changes nothing.
func (d QuestionDiff) Empty() bool {
	return len(d.Detached) == 0 && len(d.Attached) == 0
}

// Answer is one answer of a submission.
type Answer struct {
	QuestionID     int64
	SelectedAnswer string
}

// QuizResult is an immutable record of a submission attempt.
type QuizResult struct {
	ID             string
	QuizID         int64
	UserID         string
	Score          int
	TotalQuestions int
	AttemptedAt    time.Time
}

// Standing is an aggregated row of quiz results before ranking and profile enrichment.
type Standing struct {
	UserID           string
	TotalPoints      int64
	QuizzesAttempted int
	// Percentage is the average of score*100/total over the aggregated results.
	Percentage float64
}

// LeaderboardEntry is a ranked, aggregated view over quiz results.
type LeaderboardEntry struct {
	UserID            string
	DisplayName       string
	AvatarURL         string
	TotalPoints       int64
	QuizzesAttempted  int
	AveragePercentage decimal.Decimal
	Rank              int
}
