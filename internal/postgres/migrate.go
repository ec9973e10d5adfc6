package postgres

import (
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrateUp applies every pending migration.
func MigrateUp(pool *pgxpool.Pool) error {
	return runMigration(pool, (*migrate.Migrate).Up)
}

// MigrateDown reverts every migration.
func MigrateDown(pool *pgxpool.Pool) error {
	return runMigration(pool, (*migrate.Migrate).Down)
}

func runMigration(pool *pgxpool.Pool, step func(*migrate.Migrate) error) (err error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		err = stderrors.Join(err, db.Close())
	}()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("new migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		err = stderrors.Join(err, srcErr, dbErr)
	}()

	if err := step(m); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}
