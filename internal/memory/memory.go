// Package memory keeps all durable state in process memory. It backs tests and the "memory" storage driver.
package memory

import (
	"slices"
	"sort"
	"sync"

	"github.com/victornm/certiquest/internal/domain"
)

// DB is a single in-memory database shared by all stores. Every store operation holds the lock for its
// whole duration, which makes it atomic.
type DB struct {
	mu sync.Mutex

	points       map[string]domain.UserPoints
	profiles     map[string]domain.Profile
	quizzes      map[int64]domain.Quiz
	questions    map[int64]questionRow
	participants map[int64][]string
	results      []domain.QuizResult

	nextQuizID     int64
	nextQuestionID int64
}

// questionRow mirrors a quiz_questions row; quizID 0 means the question sits in the pool.
type questionRow struct {
	question domain.Question
	quizID   int64
	position int
}

func New() *DB {
	return &DB{
		points:       make(map[string]domain.UserPoints),
		profiles:     make(map[string]domain.Profile),
		quizzes:      make(map[int64]domain.Quiz),
		questions:    make(map[int64]questionRow),
		participants: make(map[int64][]string),
	}
}

func (db *DB) Points() *PointsStore      { return &PointsStore{db: db} }
func (db *DB) Questions() *QuestionStore { return &QuestionStore{db: db} }
func (db *DB) Quizzes() *QuizStore       { return &QuizStore{db: db} }
func (db *DB) Results() *ResultStore     { return &ResultStore{db: db} }

// insertQuestionLocked stores a copy of q and returns its new id.
func (db *DB) insertQuestionLocked(q domain.Question, quizID int64, position int) int64 {
	db.nextQuestionID++
	row := rowQuestion(q)
	row.ID = db.nextQuestionID
	db.questions[row.ID] = questionRow{question: row, quizID: quizID, position: position}
	return row.ID
}

// loadQuizLocked rebuilds the aggregate from its rows.
func (db *DB) loadQuizLocked(id int64) (*domain.Quiz, bool) {
	row, ok := db.quizzes[id]
	if !ok {
		return nil, false
	}

	q := row
	var rows []questionRow
	for _, r := range db.questions {
		if r.quizID == id {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].position != rows[j].position {
			return rows[i].position < rows[j].position
		}
		return rows[i].question.ID < rows[j].question.ID
	})
	for _, r := range rows {
		q.Attach(cloneQuestion(r.question))
	}
	for _, u := range db.participants[id] {
		q.AddParticipant(u)
	}

	return &q, true
}

// rowQuestion copies the column values of q, dropping ownership.
func rowQuestion(q domain.Question) domain.Question {
	return domain.Question{
		ID:            q.ID,
		Text:          q.Text,
		Options:       slices.Clone(q.Options),
		CorrectAnswer: q.CorrectAnswer,
		Category:      q.Category,
		Difficulty:    q.Difficulty,
	}
}

// rowQuiz copies the column values of q, dropping questions and participants.
func rowQuiz(q *domain.Quiz) domain.Quiz {
	return domain.Quiz{
		ID:            q.ID,
		Title:         q.Title,
		Category:      q.Category,
		Difficulty:    q.Difficulty,
		CreatedBy:     q.CreatedBy,
		CreatedAt:     q.CreatedAt,
		ExpiryDate:    q.ExpiryDate,
		QuestionCount: q.QuestionCount,
		Version:       q.Version,
	}
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Options = slices.Clone(q.Options)
	return q
}
