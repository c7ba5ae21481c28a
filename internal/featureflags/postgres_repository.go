package featureflags

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores flag overrides in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL feature flags repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the feature_flags table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS feature_flags (
			key        TEXT PRIMARY KEY,
			enabled    BOOLEAN NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("creating feature_flags table: %w", err)
	}
	return nil
}

// All returns every stored flag.
func (r *PostgresRepository) All(ctx context.Context) (map[string]Flag, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, enabled, reason, updated_at
		FROM feature_flags
	`)
	if err != nil {
		return nil, fmt.Errorf("querying feature flags: %w", err)
	}

	stored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Flag, error) {
		var f Flag
		err := row.Scan(&f.Key, &f.Enabled, &f.Reason, &f.UpdatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning feature flags: %w", err)
	}

	flags := make(map[string]Flag, len(stored))
	for _, f := range stored {
		flags[f.Key] = f
	}
	return flags, nil
}

// Save upserts flags in one transaction.
func (r *PostgresRepository) Save(ctx context.Context, flags []Flag) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	batch := &pgx.Batch{}
	for _, f := range flags {
		batch.Queue(`
			INSERT INTO feature_flags (key, enabled, reason, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE SET
				enabled = EXCLUDED.enabled,
				reason = EXCLUDED.reason,
				updated_at = EXCLUDED.updated_at
		`, f.Key, f.Enabled, f.Reason, f.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving feature flags: %w", err)
	}

	return tx.Commit(ctx)
}

var _ Repository = (*PostgresRepository)(nil)
