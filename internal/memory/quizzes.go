package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
)

type QuizStore struct {
	db *DB
}

func (s *QuizStore) Create(_ context.Context, q *domain.Quiz) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.nextQuizID++
	q.AssignID(s.db.nextQuizID)
	q.Version = 1

	for pos, question := range q.Questions() {
		q.AssignQuestionID(pos, s.claimOrInsertLocked(question, q.ID, pos))
	}

	s.db.quizzes[q.ID] = rowQuiz(q)
	s.db.participants[q.ID] = q.Participants()

	return nil
}

func (s *QuizStore) Get(_ context.Context, id int64) (*domain.Quiz, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	q, ok := s.db.loadQuizLocked(id)
	if !ok {
		return nil, errors.QuizNotFound(id)
	}

	return q, nil
}

func (s *QuizStore) List(_ context.Context, createdBy string) ([]domain.Quiz, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Quiz
	for id, row := range s.db.quizzes {
		if createdBy != "" && row.CreatedBy != createdBy {
			continue
		}
		q, _ := s.db.loadQuizLocked(id)
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	return out, nil
}

func (s *QuizStore) Update(_ context.Context, q *domain.Quiz, diff domain.QuestionDiff) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored, ok := s.db.quizzes[q.ID]
	if !ok {
		return errors.QuizNotFound(q.ID)
	}
	if stored.Version != q.Version {
		return errors.New(errors.CodeAborted, errors.WithMessagef("quiz %d was modified concurrently", q.ID))
	}

	for _, id := range diff.Detached {
		if r, ok := s.db.questions[id]; ok && r.quizID == q.ID {
			delete(s.db.questions, id)
		}
	}

	next := 0
	for _, r := range s.db.questions {
		if r.quizID == q.ID && r.position >= next {
			next = r.position + 1
		}
	}

	questions := q.Questions()
	for i, pos := range diff.Attached {
		q.AssignQuestionID(pos, s.claimOrInsertLocked(questions[pos], q.ID, next+i))
	}

	q.Version++
	s.db.quizzes[q.ID] = rowQuiz(q)

	return nil
}

func (s *QuizStore) Delete(_ context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.quizzes[id]; !ok {
		return errors.QuizNotFound(id)
	}

	for qid, r := range s.db.questions {
		if r.quizID == id {
			delete(s.db.questions, qid)
		}
	}
	delete(s.db.participants, id)
	delete(s.db.quizzes, id)

	return nil
}

func (s *QuizStore) AddParticipant(_ context.Context, quizID int64, userID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.quizzes[quizID]; !ok {
		return false, errors.QuizNotFound(quizID)
	}
	if slices.Contains(s.db.participants[quizID], userID) {
		return false, nil
	}

	s.db.participants[quizID] = append(s.db.participants[quizID], userID)
	return true, nil
}

func (s *QuizStore) CountCreated(_ context.Context, userID string, from, to time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	n := 0
	for _, q := range s.db.quizzes {
		if q.CreatedBy == userID && !q.CreatedAt.Before(from) && q.CreatedAt.Before(to) {
			n++
		}
	}

	return n, nil
}

// claimOrInsertLocked moves a pool question into the quiz, or stores a new row when the question
// is new or was claimed by another quiz in the meantime.
func (s *QuizStore) claimOrInsertLocked(q domain.Question, quizID int64, position int) int64 {
	if q.Persisted() {
		if r, ok := s.db.questions[q.ID]; ok && r.quizID == 0 {
			r.quizID, r.position = quizID, position
			s.db.questions[q.ID] = r
			return q.ID
		}
	}

	return s.db.insertQuestionLocked(q, quizID, position)
}
