package store

import (
	"context"
	"sync"
	"time"

	"jobtrack/apperrors"
)

// Memory is an in-memory Store.
//
// It is the reference implementation for update semantics and the backing
// store for unit tests and single-process embedding. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]Run
	logs map[string][]LogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]Run),
		logs: make(map[string][]LogEntry),
	}
}

// UpsertRun creates or replaces the run record keyed by run.ID.
func (m *Memory) UpsertRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if prev, ok := m.runs[run.ID]; ok {
		run.Created = prev.Created
	} else {
		run.Created = now
	}
	run.Updated = now
	run.Progress = clampProgress(run.Progress)
	m.runs[run.ID] = run
	return nil
}

// UpdateRun applies a partial update to an existing run record.
func (m *Memory) UpdateRun(ctx context.Context, id string, upd RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return apperrors.NotFound("job run", id)
	}

	if upd.ProgressIncrement != nil {
		run.Progress = clampProgress(run.Progress + *upd.ProgressIncrement)
	}
	if upd.Progress != nil {
		run.Progress = clampProgress(*upd.Progress)
	}
	if upd.Status != nil {
		run.Status = *upd.Status
	}
	if upd.Error != nil {
		run.Error = *upd.Error
	}
	run.Updated = time.Now()
	m.runs[id] = run
	return nil
}

// AppendLog appends a log entry for entry.JobID.
func (m *Memory) AppendLog(ctx context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Created.IsZero() {
		entry.Created = time.Now()
	}
	m.logs[entry.JobID] = append(m.logs[entry.JobID], entry)
	return nil
}

// GetRun returns the run record keyed by id.
func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, apperrors.NotFound("job run", id)
	}
	return run, nil
}

// Logs returns all log entries for a job in append order.
func (m *Memory) Logs(ctx context.Context, jobID string) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.logs[jobID]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// clampProgress bounds a progress percentage to [0, 100].
func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Verify Memory implements Store
var _ Store = (*Memory)(nil)
