package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// ErrMigrate wraps every migration failure.
var ErrMigrate = errors.New("failed to apply migrations")

// Migrate applies the embedded goose migrations through a database/sql view
// of the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func(d *sql.DB) {
		if err := d.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}(sqlDB)

	return migrateUp(ctx, sqlDB, logger)
}

func migrateUp(ctx context.Context, sqlDB *sql.DB, logger *slog.Logger) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return errors.Join(ErrMigrate, err)
	}
	return nil
}

// gooseLogger routes goose's printf logging through slog.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...), "component", "migrate")
}
