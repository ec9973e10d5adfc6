package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/errors"
	"github.com/victornm/certiquest/internal/leaderboard"
	"github.com/victornm/certiquest/internal/points"
	"github.com/victornm/certiquest/internal/question"
	"github.com/victornm/certiquest/internal/quiz"
	"github.com/victornm/certiquest/internal/score"
)

const (
	// HeaderUserID carries the id of the calling user. Authentication happens in front of this service.
	HeaderUserID = "X-User-ID"
	// HeaderAdminToken carries the shared secret of the operator endpoints.
	HeaderAdminToken = "X-Admin-Token"
)

type Config struct {
	Router      gin.IRouter
	Quiz        *quiz.Service
	Points      *points.Service
	Questions   *question.Service
	Score       *score.Service
	Leaderboard *leaderboard.Service
	// AdminToken guards crediting points and replenishing the pool. The endpoints are disabled when empty.
	AdminToken string
}

type API struct {
	qs *quiz.Service
	ps *points.Service
	qp *question.Service
	ss *score.Service
	ls *leaderboard.Service
}

func New(c Config) *API {
	a := &API{
		qs: c.Quiz,
		ps: c.Points,
		qp: c.Questions,
		ss: c.Score,
		ls: c.Leaderboard,
	}

	v1 := c.Router.Group("/v1")

	quizzes := v1.Group("/quizzes")
	quizzes.POST("", a.CreateQuiz)
	quizzes.GET("", a.ListQuizzes)
	quizzes.GET("/:id", a.GetQuiz)
	quizzes.PUT("/:id", a.UpdateQuiz)
	quizzes.DELETE("/:id", a.DeleteQuiz)
	quizzes.POST("/:id/join", a.JoinQuiz)
	quizzes.POST("/:id/submit", a.SubmitQuiz)
	quizzes.GET("/:id/leaderboard", a.GetQuizLeaderboard)

	v1.GET("/leaderboard", a.GetLeaderboard)
	v1.GET("/points/me", a.GetPoints)
	v1.PUT("/profiles/me", a.UpsertProfile)
	v1.GET("/results/me", a.ListResults)

	admin := v1.Group("", requireAdmin(c.AdminToken))
	admin.POST("/points/credit", a.CreditPoints)
	admin.POST("/questions/replenish", a.ReplenishQuestions)

	return a
}

func (a *API) CreateQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var body CreateQuizBody
	if !bind(c, &body) {
		return
	}

	q, err := a.qs.Create(c.Request.Context(), quiz.CreateQuizRequest{
		Title:         body.Title,
		Category:      body.Category,
		Difficulty:    domain.Difficulty(body.Difficulty),
		QuestionCount: body.QuestionCount,
		CreatedBy:     user,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, toQuiz(q, user, a.qs.IsExpired(q)))
}

func (a *API) ListQuizzes(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	qs, err := a.qs.List(c.Request.Context(), quiz.ListQuizzesRequest{
		CreatedBy:  c.Query("createdBy"),
		ActiveOnly: c.Query("active") == "true",
	})
	if err != nil {
		abort(c, err)
		return
	}

	resp := make([]Quiz, 0, len(qs))
	for i := range qs {
		resp = append(resp, toQuiz(&qs[i], user, a.qs.IsExpired(&qs[i])))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) GetQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id, ok := quizID(c)
	if !ok {
		return
	}

	q, err := a.qs.Get(c.Request.Context(), quiz.GetQuizRequest{QuizID: id})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuiz(q, user, a.qs.IsExpired(q)))
}

func (a *API) UpdateQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id, ok := quizID(c)
	if !ok {
		return
	}

	var body UpdateQuizBody
	if !bind(c, &body) {
		return
	}

	q, err := a.qs.Update(c.Request.Context(), quiz.UpdateQuizRequest{
		QuizID:        id,
		Title:         body.Title,
		Difficulty:    domain.Difficulty(body.Difficulty),
		QuestionCount: body.QuestionCount,
		ActorID:       user,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuiz(q, user, a.qs.IsExpired(q)))
}

func (a *API) DeleteQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id, ok := quizID(c)
	if !ok {
		return
	}

	if err := a.qs.Delete(c.Request.Context(), quiz.DeleteQuizRequest{QuizID: id, ActorID: user}); err != nil {
		abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) JoinQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id, ok := quizID(c)
	if !ok {
		return
	}

	q, err := a.qs.Join(c.Request.Context(), quiz.JoinQuizRequest{QuizID: id, UserID: user})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuiz(q, user, a.qs.IsExpired(q)))
}

func (a *API) SubmitQuiz(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id, ok := quizID(c)
	if !ok {
		return
	}

	var body SubmitQuizBody
	if !bind(c, &body) {
		return
	}

	answers := make([]quiz.AnswerRequest, 0, len(body.Answers))
	for _, ans := range body.Answers {
		answers = append(answers, quiz.AnswerRequest{QuestionID: ans.QuestionID, SelectedAnswer: ans.SelectedAnswer})
	}

	resp, err := a.qs.Submit(c.Request.Context(), quiz.SubmitQuizRequest{
		QuizID:  id,
		UserID:  user,
		Answers: answers,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitQuizResponse{
		ResultID:    resp.Result.ID,
		Score:       resp.Score,
		Total:       resp.Total,
		AttemptedAt: resp.Result.AttemptedAt,
	})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	entries, err := a.ls.Global(c.Request.Context(), leaderboard.GetLeaderboardRequest{Limit: limit})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(entries))
}

func (a *API) GetQuizLeaderboard(c *gin.Context) {
	id, ok := quizID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	entries, err := a.ls.Quiz(c.Request.Context(), leaderboard.GetQuizLeaderboardRequest{QuizID: id, Limit: limit})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(entries))
}

func (a *API) GetPoints(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	up, err := a.ps.GetOrCreate(c.Request.Context(), user)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toPoints(up))
}

func (a *API) CreditPoints(c *gin.Context) {
	var body CreditPointsBody
	if !bind(c, &body) {
		return
	}

	req := points.AddRequest{UserID: body.UserID, Amount: body.Amount}
	if body.Plan != "" {
		plan, err := domain.ParsePlan(body.Plan)
		if err != nil {
			abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
			return
		}
		req.Plan = &plan
	}

	up, err := a.ps.Add(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toPoints(up))
}

func (a *API) UpsertProfile(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var body ProfileBody
	if !bind(c, &body) {
		return
	}

	p, err := a.ls.UpsertProfile(c.Request.Context(), leaderboard.UpsertProfileRequest{
		UserID:      user,
		DisplayName: body.DisplayName,
		AvatarURL:   body.AvatarURL,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ProfileBody{DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
}

func (a *API) ListResults(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	results, err := a.ss.ListResults(c.Request.Context(), score.ListResultsRequest{UserID: user})
	if err != nil {
		abort(c, err)
		return
	}

	resp := make([]Result, 0, len(results))
	for _, r := range results {
		resp = append(resp, toResult(r))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) ReplenishQuestions(c *gin.Context) {
	var body ReplenishBody
	if !bind(c, &body) {
		return
	}

	difficulty, err := domain.ParseDifficulty(body.Difficulty)
	if err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err)))
		return
	}

	qs, err := a.qp.Replenish(c.Request.Context(), question.Request{
		Category:   body.Category,
		Difficulty: difficulty,
		Count:      body.Count,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"added": len(qs)})
}

func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader(HeaderUserID)
	if id == "" {
		abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing %s header", HeaderUserID)))
		return "", false
	}
	return id, true
}

func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			abort(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("admin endpoints are disabled")))
			return
		}

		got := c.GetHeader(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid %s header", HeaderAdminToken)))
			return
		}

		c.Next()
	}
}

func quizID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid quiz id: %q", c.Param("id"))))
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return 0, true
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit: %q", s)))
		return 0, false
	}
	return n, true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %v", err)))
		return false
	}
	return true
}

// abort renders err as {"code", "reason", "message"}. Causes of internal errors are logged, never returned.
func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
