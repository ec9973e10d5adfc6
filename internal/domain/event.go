package domain

const (
	EventNameQuizCreated     = "quiz.created"
	EventNameQuizUpdated     = "quiz.updated"
	EventNameQuizDeleted     = "quiz.deleted"
	EventNameResultSubmitted = "result.submitted"
)

// EventQuizCreated carries a snapshot of a newly created quiz.
type EventQuizCreated struct {
	Quiz      Quiz
	CreatorID string
}

func (EventQuizCreated) Name() string { return EventNameQuizCreated }

type EventQuizUpdated struct {
	Quiz      Quiz
	CreatorID string
}

func (EventQuizUpdated) Name() string { return EventNameQuizUpdated }

type EventQuizDeleted struct {
	QuizID    int64
	CreatorID string
}

func (EventQuizDeleted) Name() string { return EventNameQuizDeleted }

type EventResultSubmitted struct {
	Result QuizResult
}

func (EventResultSubmitted) Name() string { return EventNameResultSubmitted }
