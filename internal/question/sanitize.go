package question

import (
	"fmt"
	"strings"

	"github.com/victornm/certiquest/internal/domain"
)

const minUsableOptions = 2

// fillers pad questions that came back with fewer than four usable options.
var fillers = []string{
	"None of the above",
	"All of the above",
	"Cannot be determined",
	"Not enough information",
}

// sanitize turns a generated question into one with exactly four unique options, one of which is the
// correct answer.
func sanitize(g GeneratedQuestion, category string, difficulty domain.Difficulty) (domain.Question, error) {
	text := strings.TrimSpace(g.Text)
	if text == "" {
		return domain.Question{}, fmt.Errorf("%w: empty question text", ErrMalformedQuestion)
	}

	options := uniqueOptions(g.Options)
	if len(options) < minUsableOptions {
		return domain.Question{}, fmt.Errorf("%w: %d usable options", ErrMalformedQuestion, len(options))
	}

	correct := indexFold(options, strings.TrimSpace(g.CorrectAnswer))
	if correct < 0 {
		return domain.Question{}, fmt.Errorf("%w: correct answer %q is not an option", ErrMalformedQuestion, g.CorrectAnswer)
	}
	answer := options[correct]

	if len(options) > domain.OptionCount {
		trimmed := make([]string, 0, domain.OptionCount)
		for i, o := range options {
			if len(trimmed) == domain.OptionCount-1 && i != correct && indexFold(trimmed, answer) < 0 {
				continue
			}
			trimmed = append(trimmed, o)
			if len(trimmed) == domain.OptionCount {
				break
			}
		}
		options = trimmed
	}

	for _, f := range fillers {
		if len(options) == domain.OptionCount {
			break
		}
		if indexFold(options, f) < 0 {
			options = append(options, f)
		}
	}

	return domain.Question{
		Text:          text,
		Options:       options,
		CorrectAnswer: answer,
		Category:      category,
		Difficulty:    difficulty,
	}, nil
}

// PlaceholderPrefix marks synthesized questions.
const PlaceholderPrefix = "[placeholder]"

func placeholder(category string, difficulty domain.Difficulty, n int) domain.Question {
	return domain.Question{
		Text:          fmt.Sprintf("%s Sample question %d for %s (%s)", PlaceholderPrefix, n, category, difficulty),
		Options:       []string{"Option A", "Option B", "Option C", "Option D"},
		CorrectAnswer: "Option A",
		Category:      category,
		Difficulty:    difficulty,
	}
}

// IsPlaceholder reports whether the question was synthesized instead of generated.
func IsPlaceholder(q domain.Question) bool {
	return strings.HasPrefix(q.Text, PlaceholderPrefix)
}

func uniqueOptions(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, o := range raw {
		o = strings.TrimSpace(o)
		if o == "" || indexFold(out, o) >= 0 {
			continue
		}
		out = append(out, o)
	}
	return out
}

func indexFold(options []string, s string) int {
	for i, o := range options {
		if strings.EqualFold(o, s) {
			return i
		}
	}
	return -1
}
