package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by the kv_entries table.
// Keys are scoped by namespace so several boards can share one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresStore creates a PostgreSQL store. EnsureSchema must have been run.
func NewPostgresStore(pool *pgxpool.Pool, namespace string) *PostgresStore {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresStore{pool: pool, namespace: namespace}
}

// EnsureSchema creates the kv_entries table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			namespace  TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      BYTEA       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return unavailable("schema", err)
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT value
		FROM kv_entries
		WHERE namespace = $1 AND key = $2
	`

	var value []byte
	err := s.pool.QueryRow(ctx, query, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_entries (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, s.namespace, key, value, time.Now()); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`

	if _, err := s.pool.Exec(ctx, query, s.namespace, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Clear removes every key of the namespace.
func (s *PostgresStore) Clear(ctx context.Context) error {
	query := `DELETE FROM kv_entries WHERE namespace = $1`

	if _, err := s.pool.Exec(ctx, query, s.namespace); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// Keys returns all keys of the namespace, ordered.
func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	query := `
		SELECT key
		FROM kv_entries
		WHERE namespace = $1
		ORDER BY key
	`

	rows, err := s.pool.Query(ctx, query, s.namespace)
	if err != nil {
		return nil, unavailable("keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("keys", err)
	}
	return keys, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
