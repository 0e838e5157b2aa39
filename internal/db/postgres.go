package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_policies (
		tenant_id TEXT PRIMARY KEY,
		run_policy TEXT NOT NULL DEFAULT 'always',
		sample_rate_pct INTEGER NOT NULL DEFAULT 100,
		obfuscate_pii BOOLEAN NOT NULL DEFAULT FALSE,
		max_eval_per_day INTEGER NOT NULL DEFAULT 10000,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		flags TEXT[] NOT NULL DEFAULT '{}',
		pii_tokens_redacted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evaluations_tenant_created ON evaluations (tenant_id, created_at)`,
}

func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

// Migrate creates the tables the gateway needs if they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
