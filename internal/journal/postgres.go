package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder persists the journal to a Postgres table, allowing several
// control-plane replicas to share one operation history.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder opens a Postgres-backed recorder using the provided DSN
// and ensures the journal schema exists.
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres journal dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres journal config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres journal pool: %w", err)
	}
	recorder := &PostgresRecorder{pool: pool}
	if err := recorder.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return recorder, nil
}

func (r *PostgresRecorder) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS orchestrator_journal (
    id BIGSERIAL PRIMARY KEY,
    op TEXT NOT NULL,
    application TEXT NOT NULL,
    application_id BIGINT NOT NULL,
    stream TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orchestrator_journal_occurred_at_idx
    ON orchestrator_journal (occurred_at)
`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Append stores one entry.
func (r *PostgresRecorder) Append(ctx context.Context, entry Entry) error {
	if r.pool == nil {
		return fmt.Errorf("postgres journal pool not configured")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO orchestrator_journal (op, application, application_id, stream, result, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, entry.Op, entry.Application, int64(entry.ApplicationID), entry.Stream, entry.Result, entry.Detail, entry.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres journal pool not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT op, application, application_id, stream, result, detail, occurred_at
FROM orchestrator_journal
ORDER BY occurred_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var appID int64
		if err := rows.Scan(&entry.Op, &entry.Application, &appID, &entry.Stream, &entry.Result, &entry.Detail, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.ApplicationID = uint32(appID)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// PruneOlderThan removes entries recorded before cutoff.
func (r *PostgresRecorder) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres journal pool not configured")
	}
	tag, err := r.pool.Exec(ctx, `
DELETE FROM orchestrator_journal WHERE occurred_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune journal entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies the pool can reach Postgres.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("postgres journal pool not configured")
	}
	return r.pool.Ping(ctx)
}

// Close releases the connection pool, bounded by the provided context.
func (r *PostgresRecorder) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
