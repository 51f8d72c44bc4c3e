// Package jobtrack provides the lifecycle-reporting base for long-running
// background work: durable run records, incremental weighted progress, and a
// persisted log trail, independent of what the job actually does.
//
// Concrete jobs embed *Runner, implement the Job interface, and drive the
// lifecycle from their own Run logic: OnStart, zero or more OnUpdate calls,
// exactly one OnCompleted. Every lifecycle call persists through a detached
// per-job write queue — persistence failures are logged, never raised to the
// job, so observability cannot block or fail the actual work.
package jobtrack

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobtrack/apperrors"
	"jobtrack/config"
	"jobtrack/observability"
	"jobtrack/store"
)

// Job is the one operation a concrete job must provide. The surrounding
// lifecycle reporting comes from the embedded *Runner.
type Job interface {
	Run(ctx context.Context) error
}

// Options configures a Runner. All fields are optional except the store
// passed to New; zero values select generated ids, the default logger, and
// default write-queue sizing.
type Options struct {
	ID       string // externally-assigned job id; generated when empty
	Name     string // human-readable label; falls back to the id
	WorkerID string // process identity on log entries; defaults to host-pid

	Logger  *slog.Logger
	Metrics *observability.Metrics // nil disables metrics

	NewID func() string // id generator override, for tests

	WriteBuffer     int           // detached write queue capacity
	WriteRetries    int           // retry attempts per persistence write
	BreakerCooldown time.Duration // store circuit breaker cooldown
}

// Runner owns job identity, weighted-progress bookkeeping, and the
// lifecycle-reporting operations. It carries no payload logic of its own.
type Runner struct {
	id       string
	name     string
	workerID string

	logger  *slog.Logger
	metrics *observability.Metrics
	writer  *writer

	mu         sync.Mutex
	chunk      float64            // fraction of a composite job's work, in (0, 1]
	onProgress func(inc float64)  // set by a composite orchestrating this runner
	startedAt  time.Time

	completed atomic.Bool
}

// New creates a fully-initialized Runner persisting through st.
//
// The id is opts.ID when non-empty, else freshly generated; the name falls
// back to the id. The returned Runner owns a detached write queue — call
// Close when the job's reporting is finished to drain it.
func New(st store.Store, opts Options) (*Runner, error) {
	if st == nil {
		return nil, apperrors.InvalidArgument("store", "store is required")
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	name := opts.Name
	if name == "" {
		name = id
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = config.DefaultWorkerID()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobrunner", "jobId", id)

	r := &Runner{
		id:       id,
		name:     name,
		workerID: workerID,
		logger:   logger,
		metrics:  opts.Metrics,
		chunk:    1,
	}
	r.writer = newWriter(st, id, writerConfig{
		buffer:          opts.WriteBuffer,
		retries:         opts.WriteRetries,
		breakerCooldown: opts.BreakerCooldown,
	}, logger, opts.Metrics)

	return r, nil
}

// ID returns the job instance's globally-unique identifier.
func (r *Runner) ID() string {
	return r.id
}

// Name returns the job's human-readable label.
func (r *Runner) Name() string {
	return r.name
}

// SetChunkOfWorkPercentage records what fraction of a larger unit of work
// this job instance accounts for. Values outside (0, 1] are rejected with an
// invalid-argument error and leave the previous value unchanged: a
// misconfigured weight would silently corrupt composite progress math, so it
// fails hard instead of being logged and ignored.
func (r *Runner) SetChunkOfWorkPercentage(v float64) error {
	if math.IsNaN(v) || v <= 0 || v > 1 {
		return apperrors.InvalidArgument("chunkOfWorkPercentage",
			fmt.Sprintf("chunk of work percentage must be in (0, 1], got %v", v))
	}
	r.mu.Lock()
	r.chunk = v
	r.mu.Unlock()
	return nil
}

// ChunkOfWorkPercentage returns the current work-weight. Defaults to 1.
func (r *Runner) ChunkOfWorkPercentage() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunk
}

// OnStart upserts the run record with the given status and progress 0.
// An empty status defaults to RUNNING. Fire-and-forget: the job's execution
// continues whether or not the record was written.
func (r *Runner) OnStart(status string) {
	if status == "" {
		status = store.StatusRunning
	}
	r.mu.Lock()
	r.startedAt = time.Now()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRunStarted(context.Background(), r.name)
	}
	r.writer.enqueue(write{
		kind: writeUpsert,
		run:  store.Run{ID: r.id, Name: r.name, Status: status, Progress: 0},
	})
}

// OnUpdate emits an audit log line, then persists an additive progress
// increment and/or a status overwrite as a single detached update.
//
// The increment is included only when it is a finite number (zero is valid
// and still touches the record); the status only when non-empty. When
// neither qualifies the call is a logged no-op. Persistence failures are
// logged, never propagated.
func (r *Runner) OnUpdate(progressIncrement float64, status string) {
	r.Log("progress update: increment=%v status=%q", progressIncrement, status)

	var upd store.RunUpdate
	if validIncrement(progressIncrement) {
		upd.ProgressIncrement = &progressIncrement
	}
	if status != "" {
		upd.Status = &status
	}
	if upd.IsZero() {
		r.logger.Debug("Progress update carried no persistable fields")
		return
	}
	r.writer.enqueue(write{kind: writeUpdate, update: upd})

	r.mu.Lock()
	observe := r.onProgress
	r.mu.Unlock()
	if observe != nil && upd.ProgressIncrement != nil {
		observe(progressIncrement)
	}
}

// OnCompleted records the terminal outcome: status (empty defaults to
// COMPLETED, or ERRORED when err is non-nil), progress forced to 100, and
// the error detail when present. A caller-supplied status is honored even
// alongside an error.
//
// The first call wins; repeated or concurrent completions are ignored and
// logged.
func (r *Runner) OnCompleted(status string, err error) {
	if !r.completed.CompareAndSwap(false, true) {
		r.logger.Warn("Duplicate completion ignored", "status", status)
		return
	}

	if status == "" {
		if err != nil {
			status = store.StatusErrored
		} else {
			status = store.StatusCompleted
		}
	}

	full := 100.0
	upd := store.RunUpdate{Progress: &full, Status: &status}
	if err != nil {
		detail := err.Error()
		upd.Error = &detail
	}
	r.writer.enqueue(write{kind: writeUpdate, update: upd})

	if r.metrics != nil {
		r.mu.Lock()
		started := r.startedAt
		r.mu.Unlock()
		var duration float64
		if !started.IsZero() {
			duration = time.Since(started).Seconds()
		}
		r.metrics.RecordRunCompleted(context.Background(), r.name, err == nil, duration)
	}
}

// Log formats a message, prefixes it with the job's name, and writes it to
// both the diagnostic sink at debug severity and the durable job log.
// The durable write is best-effort.
func (r *Runner) Log(format string, args ...any) {
	msg := fmt.Sprintf("%s: %s", r.name, fmt.Sprintf(format, args...))
	r.logger.Debug(msg)
	r.writer.enqueue(write{
		kind: writeLog,
		entry: store.LogEntry{
			JobID:    r.id,
			WorkerID: r.workerID,
			Name:     r.name,
			Message:  msg,
			Metadata: map[string]string{},
		},
	})
}

// WriteStats returns counters for the runner's detached write queue.
func (r *Runner) WriteStats() WriteStats {
	return r.writer.stats()
}

// Close drains the detached write queue. The context deadline controls how
// long to wait; queued writes still pending at the deadline are abandoned.
func (r *Runner) Close(ctx context.Context) error {
	return r.writer.close(ctx)
}

// observeProgress registers a callback receiving the raw (unscaled) progress
// increment of every persisted update. Used by Composite to aggregate child
// progress; scaling by the child's work-weight is the observer's job.
func (r *Runner) observeProgress(fn func(inc float64)) {
	r.mu.Lock()
	r.onProgress = fn
	r.mu.Unlock()
}

// validIncrement reports whether v can be applied as an additive progress
// increment. Zero is a valid increment; NaN/Inf would corrupt the persisted
// percentage.
func validIncrement(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
