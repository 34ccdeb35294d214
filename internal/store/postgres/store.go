// Package postgres provides a PostgreSQL implementation of the build history store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS build_outcomes (
	id UUID PRIMARY KEY,
	run_id VARCHAR(64) NOT NULL,
	module VARCHAR(255) NOT NULL,
	status VARCHAR(16) NOT NULL CHECK (status IN ('built', 'skipped', 'failed')),
	artifact TEXT,
	diagnostics JSONB NOT NULL DEFAULT '[]',
	error TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, module)
);
CREATE INDEX IF NOT EXISTS build_outcomes_module_idx ON build_outcomes (module, recorded_at DESC);
`

// Store implements store.OutcomeStore using PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool, verifies it and ensures the schema exists.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// Migrate creates the build history schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating build history schema: %w", err)
	}
	return nil
}

// withTx executes fn within a transaction, rolling back if it fails.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
