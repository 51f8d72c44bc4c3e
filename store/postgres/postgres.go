// Package postgres implements the job store on PostgreSQL.
//
// Job runs live in the job_runs table keyed by the job id; log entries are
// appended to job_logs. Additive progress increments are applied in SQL
// (progress = progress + n) so concurrent writers never need
// read-modify-write.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"jobtrack/apperrors"
	"jobtrack/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, apperrors.Internal("postgres.parseConfig", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.Internal("postgres.connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Internal("postgres.ping", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Internal("postgres.migrate", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return apperrors.Internal("postgres.migrate", err)
	}
	return nil
}

// Ready verifies the database is reachable.
func (s *Store) Ready(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertRun creates or replaces the run record keyed by run.ID.
func (s *Store) UpsertRun(ctx context.Context, run store.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, name, status, progress, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			error = EXCLUDED.error,
			updated_at = now()
	`, run.ID, run.Name, run.Status, clampProgress(run.Progress), run.Error)
	if err != nil {
		return apperrors.Internal("postgres.upsertRun", err)
	}
	return nil
}

// UpdateRun applies a partial update to the run record keyed by id.
func (s *Store) UpdateRun(ctx context.Context, id string, upd store.RunUpdate) error {
	if upd.IsZero() {
		return nil
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}

	// PostgreSQL rejects two assignments to the same column, so the
	// absolute overwrite replaces the increment rather than joining it.
	switch {
	case upd.Progress != nil:
		args = append(args, clampProgress(*upd.Progress))
		sets = append(sets, fmt.Sprintf("progress = $%d", len(args)))
	case upd.ProgressIncrement != nil:
		args = append(args, *upd.ProgressIncrement)
		sets = append(sets, fmt.Sprintf("progress = LEAST(GREATEST(progress + $%d, 0), 100)", len(args)))
	}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.Error != nil {
		args = append(args, *upd.Error)
		sets = append(sets, fmt.Sprintf("error = NULLIF($%d, '')", len(args)))
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE job_runs SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return apperrors.Internal("postgres.updateRun", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("job run", id)
	}
	return nil
}

// AppendLog appends a log entry to job_logs.
func (s *Store) AppendLog(ctx context.Context, entry store.LogEntry) error {
	meta := entry.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return apperrors.Internal("postgres.appendLog", err)
	}

	created := entry.Created
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_logs (job_id, worker_id, name, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.JobID, entry.WorkerID, entry.Name, entry.Message, metaJSON, created)
	if err != nil {
		return apperrors.Internal("postgres.appendLog", err)
	}
	return nil
}

// GetRun returns the run record keyed by id.
func (s *Store) GetRun(ctx context.Context, id string) (store.Run, error) {
	var run store.Run
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, status, progress, COALESCE(error, ''), created_at, updated_at
		FROM job_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.Name, &run.Status, &run.Progress, &run.Error, &run.Created, &run.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, apperrors.NotFound("job run", id)
	}
	if err != nil {
		return store.Run{}, apperrors.Internal("postgres.getRun", err)
	}
	return run, nil
}

// Logs returns all log entries for a job in append order.
func (s *Store) Logs(ctx context.Context, jobID string) ([]store.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, worker_id, name, message, metadata, created_at
		FROM job_logs WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, apperrors.Internal("postgres.logs", err)
	}
	defer rows.Close()

	var entries []store.LogEntry
	for rows.Next() {
		var entry store.LogEntry
		var metaJSON []byte
		if err := rows.Scan(&entry.JobID, &entry.WorkerID, &entry.Name, &entry.Message, &metaJSON, &entry.Created); err != nil {
			return nil, apperrors.Internal("postgres.logs", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
				return nil, apperrors.Internal("postgres.logs", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("postgres.logs", err)
	}
	return entries, nil
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Verify Store implements store.Store
var _ store.Store = (*Store)(nil)
