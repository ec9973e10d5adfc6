package memory

import (
	"context"
	"sort"

	"github.com/victornm/certiquest/internal/domain"
)

type QuestionStore struct {
	db *DB
}

func (s *QuestionStore) FindUnattached(_ context.Context, category string, difficulty domain.Difficulty) ([]domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.Question
	for _, r := range s.db.questions {
		if r.quizID == 0 && r.question.Category == category && r.question.Difficulty == difficulty {
			out = append(out, cloneQuestion(r.question))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (s *QuestionStore) InsertUnattached(_ context.Context, questions []domain.Question) ([]domain.Question, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		id := s.db.insertQuestionLocked(q, 0, 0)
		out = append(out, cloneQuestion(s.db.questions[id].question))
	}

	return out, nil
}
