// Package postgres implements the durable stores on PostgreSQL.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Addr string
	User string
	Pass string
	Name string
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
}

// Connect opens a pool and checks it can reach the database.
func Connect(ctx context.Context, c Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// DB groups the stores sharing one pool.
type DB struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (db *DB) Points() *PointsStore      { return &PointsStore{db: db} }
func (db *DB) Questions() *QuestionStore { return &QuestionStore{db: db} }
func (db *DB) Quizzes() *QuizStore       { return &QuizStore{db: db} }
func (db *DB) Results() *ResultStore     { return &ResultStore{db: db} }

func (db *DB) inTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// snapshot reads several tables from one consistent view.
var snapshot = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
