package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/victornm/certiquest/internal/config"
	"github.com/victornm/certiquest/internal/domain"
	"github.com/victornm/certiquest/internal/postgres"
	"github.com/victornm/certiquest/internal/question"
	"github.com/victornm/certiquest/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath = os.Getenv("CONFIG_PATH")
		envFile    = ".env"
	)

	cmd := &cobra.Command{
		Use:          "certiquest",
		Short:        "Quiz platform core: points, question pool, quizzes, scoring and leaderboards",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", configPath, "path to YAML config (default $CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", envFile, "optional .env file loaded before the config")

	load := func() (server.Config, error) {
		return loadConfig(configPath, envFile)
	}

	cmd.AddCommand(newServeCmd(load), newMigrateCmd(load), newSeedCmd(load))
	return cmd
}

func newServeCmd(load func() (server.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Run: func(cmd *cobra.Command, args []string) {
			c, err := load()
			if err != nil {
				log.Fatalf("Load config failed: %v", err)
			}

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

			s, err := server.Init(c)
			if err != nil {
				log.Fatalf("Init server failed: %v", err)
			}

			go s.Start()

			<-shutdown
			s.Shutdown()
		},
	}
}

func newMigrateCmd(load func() (server.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}

	run := func(step func(*pgxpool.Pool) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}

			pool, err := postgres.Connect(cmd.Context(), postgres.Config{
				Addr: c.Postgres.Addr,
				User: c.Postgres.User,
				Pass: c.Postgres.Pass,
				Name: c.Postgres.Name,
			})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			return step(pool)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  run(postgres.MigrateUp),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations",
			RunE:  run(postgres.MigrateDown),
		},
	)

	return cmd
}

func newSeedCmd(load func() (server.Config, error)) *cobra.Command {
	var (
		category   string
		difficulty string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate questions into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}

			c, err := load()
			if err != nil {
				return err
			}

			s, err := server.Init(c)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			qs, err := s.Question().Replenish(cmd.Context(), question.Request{
				Category:   category,
				Difficulty: d,
				Count:      count,
			})
			if err != nil {
				return err
			}

			placeholders := 0
			for _, q := range qs {
				if question.IsPlaceholder(q) {
					placeholders++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d questions (%d placeholders)\n", len(qs), placeholders)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "question category")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(domain.DifficultyEasy), "EASY, MEDIUM or HARD")
	cmd.Flags().IntVar(&count, "count", 10, "number of questions to generate")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func loadConfig(path, envFile string) (server.Config, error) {
	c := server.DefaultConfig()

	if path == "" {
		return c, fmt.Errorf("config path not set: use --config or CONFIG_PATH")
	}

	if err := config.Load(path, &c, envFile); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
