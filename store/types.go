package store

import "time"

// Status codes written by the runner. The status field is an open string:
// callers may supply their own codes (e.g. "PARTIAL") and stores must accept
// them as-is.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusErrored   = "ERRORED"
)

// Run is the durable record describing one job instance.
type Run struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Progress float64   `json:"progress"` // percentage in [0, 100]
	Error    string    `json:"error,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// RunUpdate is a partial update to a run record. Nil fields are left
// untouched. ProgressIncrement is additive; Progress is an absolute
// overwrite and takes precedence when both are set.
type RunUpdate struct {
	ProgressIncrement *float64
	Progress          *float64
	Status            *string
	Error             *string
}

// IsZero reports whether the update carries no field at all.
func (u RunUpdate) IsZero() bool {
	return u.ProgressIncrement == nil && u.Progress == nil && u.Status == nil && u.Error == nil
}

// LogEntry is one durable, append-only diagnostic line for a job instance.
// WorkerID identifies the emitting process in multi-worker deployments.
type LogEntry struct {
	JobID    string            `json:"jobId"`
	WorkerID string            `json:"workerId"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"` // reserved, currently always empty
	Created  time.Time         `json:"created"`
}
