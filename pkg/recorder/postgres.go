package recorder

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresRecorder persists benchmark runs to a shared Postgres instance for
// fleet-wide benchmark history, grounded on pkg/budget/postgres_store.go's
// sql.DB-wrapping shape.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder wraps an existing *sql.DB.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Init creates the runs table if it doesn't already exist.
func (r *PostgresRecorder) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ucg_bench_runs (
			id TEXT PRIMARY KEY,
			collective TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			member_count INTEGER NOT NULL,
			fragment_length INTEGER NOT NULL,
			fragment_count INTEGER NOT NULL,
			latency_nanos BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("recorder: init schema: %w", err)
	}
	return nil
}

// Record inserts one benchmark run.
func (r *PostgresRecorder) Record(ctx context.Context, run Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ucg_bench_runs
			(id, collective, algorithm, member_count, fragment_length, fragment_count, latency_nanos, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.Collective, run.Algorithm, run.MemberCount, run.FragmentLength, run.FragmentCount, run.LatencyNanos, run.RecordedAt)
	if err != nil {
		return fmt.Errorf("recorder: insert run: %w", err)
	}
	return nil
}

// ByCollective returns the most recent runs for collective.
func (r *PostgresRecorder) ByCollective(ctx context.Context, collective string, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, collective, algorithm, member_count, fragment_length, fragment_count, latency_nanos, recorded_at
		FROM ucg_bench_runs
		WHERE collective = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, collective, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Collective, &run.Algorithm, &run.MemberCount,
			&run.FragmentLength, &run.FragmentCount, &run.LatencyNanos, &run.RecordedAt); err != nil {
			return nil, fmt.Errorf("recorder: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

var _ Recorder = (*PostgresRecorder)(nil)
