package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/certiquest/internal/domain"
)

const dateLayout = "2006-01-02"

type (
	CreateQuizBody struct {
		Title         string `json:"title"`
		Category      string `json:"category"`
		Difficulty    string `json:"difficulty"`
		QuestionCount int    `json:"questionCount"`
	}

	UpdateQuizBody struct {
		Title         string `json:"title"`
		Difficulty    string `json:"difficulty"`
		QuestionCount int    `json:"questionCount"`
	}

	AnswerBody struct {
		QuestionID     int64  `json:"questionId"`
		SelectedAnswer string `json:"selectedAnswer"`
	}

	SubmitQuizBody struct {
		Answers []AnswerBody `json:"answers"`
	}

	CreditPointsBody struct {
		UserID string `json:"userId"`
		Amount int    `json:"amount"`
		Plan   string `json:"plan,omitempty"`
	}

	ProfileBody struct {
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl,omitempty"`
	}

	ReplenishBody struct {
		Category   string `json:"category"`
		Difficulty string `json:"difficulty"`
		Count      int    `json:"count"`
	}
)

type (
	Quiz struct {
		ID            int64      `json:"id"`
		Title         string     `json:"title"`
		Category      string     `json:"category"`
		Difficulty    string     `json:"difficulty"`
		CreatedBy     string     `json:"createdBy"`
		CreatedAt     time.Time  `json:"createdAt"`
		ExpiryDate    string     `json:"expiryDate"`
		Expired       bool       `json:"expired"`
		QuestionCount int        `json:"questionCount"`
		Version       int        `json:"version"`
		Questions     []Question `json:"questions"`
		Participants  []string   `json:"participants"`
	}

	Question struct {
		ID            int64    `json:"id"`
		Text          string   `json:"text"`
		Options       []string `json:"options"`
		CorrectAnswer string   `json:"correctAnswer,omitempty"`
	}

	SubmitQuizResponse struct {
		ResultID    string    `json:"resultId"`
		Score       int       `json:"score"`
		Total       int       `json:"total"`
		AttemptedAt time.Time `json:"attemptedAt"`
	}

	Result struct {
		ID             string    `json:"id"`
		QuizID         int64     `json:"quizId"`
		Score          int       `json:"score"`
		TotalQuestions int       `json:"totalQuestions"`
		AttemptedAt    time.Time `json:"attemptedAt"`
	}

	Points struct {
		UserID  string `json:"userId"`
		Balance int    `json:"balance"`
		Plan    string `json:"plan"`
	}

	LeaderboardEntry struct {
		Rank              int             `json:"rank"`
		UserID            string          `json:"userId"`
		DisplayName       string          `json:"displayName"`
		AvatarURL         string          `json:"avatarUrl,omitempty"`
		TotalPoints       int64           `json:"totalPoints"`
		QuizzesAttempted  int             `json:"quizzesAttempted"`
		AveragePercentage decimal.Decimal `json:"averagePercentage"`
	}
)

// toQuiz renders q for viewer. Correct answers are shown to the creator only.
func toQuiz(q *domain.Quiz, viewer string, expired bool) Quiz {
	out := Quiz{
		ID:            q.ID,
		Title:         q.Title,
		Category:      q.Category,
		Difficulty:    string(q.Difficulty),
		CreatedBy:     q.CreatedBy,
		CreatedAt:     q.CreatedAt,
		ExpiryDate:    q.ExpiryDate.Format(dateLayout),
		Expired:       expired,
		QuestionCount: q.QuestionCount,
		Version:       q.Version,
		Participants:  q.Participants(),
	}

	if out.Participants == nil {
		out.Participants = []string{}
	}

	questions := q.Questions()
	out.Questions = make([]Question, 0, len(questions))
	for _, qn := range questions {
		item := Question{ID: qn.ID, Text: qn.Text, Options: qn.Options}
		if viewer == q.CreatedBy {
			item.CorrectAnswer = qn.CorrectAnswer
		}
		out.Questions = append(out.Questions, item)
	}

	return out
}

func toResult(r domain.QuizResult) Result {
	return Result{
		ID:             r.ID,
		QuizID:         r.QuizID,
		Score:          r.Score,
		TotalQuestions: r.TotalQuestions,
		AttemptedAt:    r.AttemptedAt,
	}
}

func toPoints(up *domain.UserPoints) Points {
	return Points{UserID: up.UserID, Balance: up.Balance, Plan: string(up.Plan)}
}

func toLeaderboard(entries []domain.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LeaderboardEntry{
			Rank:              e.Rank,
			UserID:            e.UserID,
			DisplayName:       e.DisplayName,
			AvatarURL:         e.AvatarURL,
			TotalPoints:       e.TotalPoints,
			QuizzesAttempted:  e.QuizzesAttempted,
			AveragePercentage: e.AveragePercentage,
		})
	}
	return out
}
