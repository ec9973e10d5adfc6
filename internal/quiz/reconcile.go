package quiz

import "github.com/victornm/certiquest/internal/domain"

// Reconcile replaces the question set of q with fetched and returns what changed. Questions present in
// both sets are kept as is. When fetched shares no question with q, every current question is released.
func Reconcile(q *domain.Quiz, fetched []domain.Question) domain.QuestionDiff {
	current := make(map[int64]bool)
	for _, question := range q.Questions() {
		if question.Persisted() {
			current[question.ID] = true
		}
	}

	wanted := make(map[int64]bool)
	overlap := false
	for _, question := range fetched {
		if question.Persisted() {
			wanted[question.ID] = true
			overlap = overlap || current[question.ID]
		}
	}

	var diff domain.QuestionDiff
	if !overlap {
		for _, released := range q.DetachAll() {
			if released.Persisted() {
				diff.Detached = append(diff.Detached, released.ID)
			}
		}
		clear(current)
	} else {
		for _, question := range q.Questions() {
			if question.Persisted() && !wanted[question.ID] {
				q.Detach(question.ID)
				diff.Detached = append(diff.Detached, question.ID)
			}
		}
	}

	for _, question := range fetched {
		if question.Persisted() && current[question.ID] {
			continue
		}
		diff.Attached = append(diff.Attached, len(q.Questions()))
		q.Attach(question)
	}

	return diff
}
