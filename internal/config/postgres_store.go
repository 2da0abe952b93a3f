package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the configuration record as a single JSONB row,
// allowing multiple gateway replicas to share credentials and the session
// token.
type PostgresStore struct {
	mu       sync.RWMutex
	pool     *pgxpool.Pool
	settings Settings
}

const postgresConfigSchema = `
CREATE TABLE IF NOT EXISTS gateway_config (
    id smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    settings jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`

// NewPostgresStore opens a Postgres-backed configuration store using the
// provided DSN, creating the table and seeding defaults when the record is
// absent.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres config dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresConfigSchema); err != nil {
		return fmt.Errorf("ensure config table: %w", err)
	}
	row := s.pool.QueryRow(ctx, `SELECT settings FROM gateway_config WHERE id = 1`)
	var data []byte
	switch err := row.Scan(&data); {
	case errors.Is(err, pgx.ErrNoRows):
		s.settings = Defaults()
		return s.persist(ctx, s.settings)
	case err != nil:
		return fmt.Errorf("load config: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse config row: %w", err)
	}
	settings.normalize()
	s.settings = settings
	return nil
}

func (s *PostgresStore) persist(ctx context.Context, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO gateway_config (id, settings, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()
`, data)
	if err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current configuration record.
func (s *PostgresStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies the mutation and upserts the row before returning the
// resulting record.
func (s *PostgresStore) Update(mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.settings
	mutate(&updated)
	updated.normalize()
	if err := s.persist(context.Background(), updated); err != nil {
		return Settings{}, err
	}
	s.settings = updated
	return updated, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
