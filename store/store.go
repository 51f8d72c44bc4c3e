// Package store defines the persistence contract for job run records and
// job log entries, plus an in-memory implementation.
//
// Two logical collections exist:
//
//   - job runs: one record per job instance, keyed by the job id. Created by
//     an upsert on job start, mutated by partial updates for the remainder of
//     the job's life, never deleted by this framework.
//   - job logs: append-only diagnostic entries attributable to a job instance
//     and the worker process that emitted them.
package store

import "context"

// Store is the persistence contract consumed by the job runner.
//
// Implementations must be safe for concurrent writes to independent keys.
// The runner serializes writes per job id itself, so per-key ordering inside
// the store is not required.
type Store interface {
	// UpsertRun creates or replaces the run record keyed by run.ID.
	UpsertRun(ctx context.Context, run Run) error

	// UpdateRun applies a partial update to the run record keyed by id.
	// Increment and overwrite fields may be combined in a single call; the
	// update is applied atomically per record.
	UpdateRun(ctx context.Context, id string, upd RunUpdate) error

	// AppendLog appends a log entry. Entries are never mutated or deleted.
	AppendLog(ctx context.Context, entry LogEntry) error

	// GetRun returns the run record keyed by id, or apperrors.ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)

	// Logs returns all log entries for a job in append order.
	Logs(ctx context.Context, jobID string) ([]LogEntry, error)
}
