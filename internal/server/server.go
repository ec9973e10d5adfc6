package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/certiquest/internal/api"
	"github.com/victornm/certiquest/internal/event"
	"github.com/victornm/certiquest/internal/generator"
	"github.com/victornm/certiquest/internal/leaderboard"
	"github.com/victornm/certiquest/internal/memory"
	"github.com/victornm/certiquest/internal/points"
	"github.com/victornm/certiquest/internal/postgres"
	"github.com/victornm/certiquest/internal/question"
	"github.com/victornm/certiquest/internal/quiz"
	"github.com/victornm/certiquest/internal/quota"
	"github.com/victornm/certiquest/internal/score"
	"github.com/victornm/certiquest/internal/telemetry"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Port        int32
		CORSOrigins []string
		// AdminToken enables the operator endpoints under the X-Admin-Token header.
		AdminToken string
	}

	GRPC struct {
		Port int32
	}

	Storage struct {
		Driver string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
		// Migrate applies pending migrations on start.
		Migrate bool
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Points struct {
		DefaultBalance int
		CreateCost     int
		UpdateCost     int
		SubmitCost     int
	}

	Generator struct {
		URL         string
		APIKey      string
		Model       string
		Temperature float64
		MaxTokens   int
		Timeout     time.Duration
	}

	Quiz struct {
		TTLDays int
	}

	Questions struct {
		// MaxCount caps the questions of a single quiz or replenish request.
		MaxCount int
	}

	Leaderboard struct {
		CacheTTL     time.Duration
		DefaultLimit int
	}
}

// DefaultConfig holds the values used when the config file leaves a field out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Storage.Driver = StoragePostgres
	c.Redis.Prefix = "certiquest"
	c.Points.DefaultBalance = points.DefaultBalance
	c.Points.CreateCost = quiz.DefaultCosts.Create
	c.Points.UpdateCost = quiz.DefaultCosts.Update
	c.Points.SubmitCost = quiz.DefaultCosts.Submit
	c.Generator.Timeout = 10 * time.Second
	c.Quiz.TTLDays = 7
	c.Questions.MaxCount = 100
	c.Leaderboard.CacheTTL = 30 * time.Second
	c.Leaderboard.DefaultLimit = leaderboard.DefaultLimit
	return c
}

// stores abstracts over the storage drivers.
type stores struct {
	points    points.Store
	questions question.Store
	quizzes   quiz.Store
	results   score.Store
	standings leaderboard.Store
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		stores   stores
	}

	service struct {
		points      *points.Service
		question    *question.Service
		score       *score.Service
		quiz        *quiz.Service
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	switch s.c.Storage.Driver {
	case StorageMemory:
		db := memory.New()
		s.infra.stores = stores{
			points:    db.Points(),
			questions: db.Questions(),
			quizzes:   db.Quizzes(),
			results:   db.Results(),
			standings: db.Results(),
		}
		slog.Warn("server: using in-memory storage, data is lost on shutdown")

	case StoragePostgres, "":
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		db := postgres.New(s.infra.postgres)
		s.infra.stores = stores{
			points:    db.Points(),
			questions: db.Questions(),
			quizzes:   db.Quizzes(),
			results:   db.Results(),
			standings: db.Results(),
		}

	default:
		return fmt.Errorf("unknown storage driver %q", s.c.Storage.Driver)
	}

	return nil
}

// initRedis connects Redis when addresses are configured. Without Redis leaderboards are not cached
// and no notifications are published.
func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		slog.Warn("server: redis not configured, leaderboard cache and notifications disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	pool, err := postgres.Connect(context.Background(), postgres.Config{
		Addr: s.c.Postgres.Addr,
		User: s.c.Postgres.User,
		Pass: s.c.Postgres.Pass,
		Name: s.c.Postgres.Name,
	})
	if err != nil {
		return err
	}

	if s.c.Postgres.Migrate {
		if err := postgres.MigrateUp(pool); err != nil {
			pool.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}

	s.infra.postgres = pool
	return nil
}

func (s *Server) initService() {
	st := s.infra.stores

	var gen question.Generator
	if s.c.Generator.URL != "" {
		gen = generator.NewClient(generator.Config{
			URL:         s.c.Generator.URL,
			APIKey:      s.c.Generator.APIKey,
			Model:       s.c.Generator.Model,
			Temperature: s.c.Generator.Temperature,
			MaxTokens:   s.c.Generator.MaxTokens,
			Timeout:     s.c.Generator.Timeout,
		})
	} else {
		slog.Warn("server: generator not configured, new questions are placeholders")
	}

	s.service.points = points.NewService(points.Config{
		Store:          st.points,
		DefaultBalance: s.c.Points.DefaultBalance,
	})

	s.service.question = question.NewService(question.Config{
		Store:     st.questions,
		Generator: gen,
		Timeout:   s.c.Generator.Timeout,
		MaxCount:  s.c.Questions.MaxCount,
	})

	s.service.score = score.NewService(score.Config{
		Store: st.results,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		Store:     st.quizzes,
		Points:    s.service.points,
		Questions: s.service.question,
		Quota:     quota.NewPolicy(nil),
		Score:     s.service.score,
		EventBus:  s.eb,
		Costs: &quiz.Costs{
			Create: s.c.Points.CreateCost,
			Update: s.c.Points.UpdateCost,
			Submit: s.c.Points.SubmitCost,
		},
		TTL: time.Duration(s.c.Quiz.TTLDays) * 24 * time.Hour,
	})

	lc := leaderboard.Config{
		EventBus:     s.eb,
		Store:        st.standings,
		Prefix:       s.c.Redis.Prefix,
		CacheTTL:     s.c.Leaderboard.CacheTTL,
		DefaultLimit: s.c.Leaderboard.DefaultLimit,
	}
	if s.infra.redis != nil {
		lc.Redis = s.infra.redis
	}
	s.service.leaderboard = leaderboard.NewService(lc)
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinMiddleware(), s.cors())
	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api.New(api.Config{
		Router:      e,
		Quiz:        s.service.quiz,
		Points:      s.service.points,
		Questions:   s.service.question,
		Score:       s.service.score,
		Leaderboard: s.service.leaderboard,
		AdminToken:  s.c.HTTP.AdminToken,
	})

	if s.infra.redis != nil {
		api.NewNotifier(api.NotifierConfig{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) cors() gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", api.HeaderUserID},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}

	if len(s.c.HTTP.CORSOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = s.c.HTTP.CORSOrigins
	}

	return cors.New(c)
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Question exposes the question pool for offline maintenance such as seeding.
func (s *Server) Question() *question.Service {
	return s.service.question
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
		}
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
