package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on Postgres for durable accounting.
// The UTC day is part of the primary key, so rollover is implicit: a new day
// simply reads (and later upserts) a fresh row, and the upsert's additive
// update keeps concurrent settlements lossless.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quota: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("quota: ping: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema files. The statements are idempotent
// (CREATE TABLE IF NOT EXISTS), so running at every startup is safe.
func (s *PostgresStore) Migrate(ctx context.Context, migrations fs.FS) error {
	entries, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return fmt.Errorf("quota: list migrations: %w", err)
	}
	for _, name := range entries {
		sql, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("quota: read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("quota: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// CheckAdmission implements Store.
func (s *PostgresStore) CheckAdmission(ctx context.Context, userID, agentID string, limitSeconds, estimatedSeconds float64) (Admission, error) {
	var used float64
	err := s.pool.QueryRow(ctx,
		`SELECT usage_seconds FROM koe_quota WHERE user_id = $1 AND agent_id = $2 AND day = $3`,
		userID, agentID, dayStamp(time.Now()),
	).Scan(&used)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Admission{}, fmt.Errorf("quota: read usage: %w", err)
	}
	return admit(used, limitSeconds, estimatedSeconds), nil
}

// Settle implements Store.
func (s *PostgresStore) Settle(ctx context.Context, userID, agentID string, actualSeconds float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO koe_quota (user_id, agent_id, day, usage_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, agent_id, day)
		 DO UPDATE SET usage_seconds = koe_quota.usage_seconds + EXCLUDED.usage_seconds`,
		userID, agentID, dayStamp(time.Now()), actualSeconds,
	)
	if err != nil {
		return fmt.Errorf("quota: settle: %w", err)
	}
	return nil
}

// Cleanup deletes rows older than two days. Losing old rows is fine because
// admission only ever reads today's row.
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	cutoff := dayStamp(time.Now().Add(-staleThreshold))
	tag, err := s.pool.Exec(ctx, `DELETE FROM koe_quota WHERE day < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("quota: cleanup: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("quota: evicted stale rows", "rows", n)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
