package jobtrack

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"jobtrack/observability"
	"jobtrack/pkg/backoff"
	"jobtrack/pkg/circuitbreaker"
	"jobtrack/store"
)

// writeKind identifies which store operation a queued write performs.
type writeKind int

const (
	writeUpsert writeKind = iota // UpsertRun on job start
	writeUpdate                  // UpdateRun on progress/completion
	writeLog                     // AppendLog, best-effort
)

func (k writeKind) String() string {
	switch k {
	case writeUpsert:
		return "upsert"
	case writeUpdate:
		return "update"
	case writeLog:
		return "log"
	default:
		return "unknown"
	}
}

// write is one queued persistence operation for a single job id.
type write struct {
	kind   writeKind
	run    store.Run
	update store.RunUpdate
	entry  store.LogEntry
}

// writerConfig sizes the detached write path. Zero values use defaults.
type writerConfig struct {
	buffer          int           // queue capacity (default: 64)
	retries         int           // retry attempts per write (default: 3)
	timeout         time.Duration // per-write deadline (default: 5s)
	backoff         *backoff.Config
	breakerCooldown time.Duration
}

func (c writerConfig) withDefaults() writerConfig {
	if c.buffer <= 0 {
		c.buffer = 64
	}
	if c.retries <= 0 {
		c.retries = 3
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c
}

// WriteStats holds counters for a runner's detached write queue.
type WriteStats struct {
	QueueDepth int   // writes currently queued
	Enqueued   int64 // total writes accepted
	Applied    int64 // writes persisted successfully
	Failed     int64 // writes abandoned after retries
	Dropped    int64 // writes dropped (queue full, breaker open, or closed)
}

// writer serializes all persisted writes for one job id through a bounded
// queue and a single goroutine, so the final persisted state matches the last
// lifecycle call even when the store does not order per-key writes itself.
//
// Writes are detached: enqueue never blocks and never returns an error. A
// full buffer drops the write (counted and logged). Each attempted write is
// retried with exponential backoff; a circuit breaker around the store makes
// queued writes fail fast while the store is down.
type writer struct {
	st      store.Store
	jobID   string
	queue   chan write
	logger  *slog.Logger
	metrics *observability.Metrics
	breaker *circuitbreaker.Breaker
	cfg     writerConfig

	enqueued atomic.Int64
	applied  atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	shutdown chan struct{}
	done     chan struct{}
	closed   atomic.Bool
}

func newWriter(st store.Store, jobID string, cfg writerConfig, logger *slog.Logger, metrics *observability.Metrics) *writer {
	cfg = cfg.withDefaults()

	w := &writer{
		st:      st,
		jobID:   jobID,
		queue:   make(chan write, cfg.buffer),
		logger:  logger.With("component", "jobwriter"),
		metrics: metrics,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Cooldown: cfg.breakerCooldown,
		}),
		cfg:      cfg,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go w.run()
	return w
}

// enqueue queues a write for detached persistence. Never blocks.
func (w *writer) enqueue(wr write) {
	if w.closed.Load() {
		w.dropped.Add(1)
		w.logger.Warn("Write dropped, writer closed", "kind", wr.kind.String())
		return
	}

	select {
	case w.queue <- wr:
		w.enqueued.Add(1)
		if w.metrics != nil {
			w.metrics.RecordWriteQueueDepth(context.Background(), int64(len(w.queue)))
		}
	default:
		w.dropped.Add(1)
		if w.metrics != nil {
			w.metrics.RecordWriteDropped(context.Background())
		}
		w.logger.Warn("Write dropped, buffer full", "kind", wr.kind.String())
	}
}

// stats returns current write counters.
func (w *writer) stats() WriteStats {
	return WriteStats{
		QueueDepth: len(w.queue),
		Enqueued:   w.enqueued.Load(),
		Applied:    w.applied.Load(),
		Failed:     w.failed.Load(),
		Dropped:    w.dropped.Load(),
	}
}

// close drains queued writes, waiting up to the context deadline.
func (w *writer) close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil // already closed
	}

	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("Writer shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

// run is the single consumer goroutine: per-job serialization lives here.
func (w *writer) run() {
	defer close(w.done)

	for {
		select {
		case <-w.shutdown:
			w.drain()
			return
		case wr := <-w.queue:
			w.apply(wr)
		}
	}
}

// drain applies remaining writes after a shutdown signal.
func (w *writer) drain() {
	for {
		select {
		case wr := <-w.queue:
			w.apply(wr)
		default:
			return
		}
	}
}

// apply attempts one write with retry and circuit breaker. Failures are
// observed only here: logged at error severity for lifecycle writes, debug
// for best-effort log entries.
func (w *writer) apply(wr write) {
	if !w.breaker.Allow() {
		w.dropped.Add(1)
		if w.metrics != nil {
			w.metrics.RecordWriteDropped(context.Background())
		}
		w.logger.Warn("Write dropped, store circuit open", "kind", wr.kind.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.timeout)
	defer cancel()

	err := w.applyWithRetry(ctx, wr)
	if err != nil {
		w.breaker.RecordFailure()
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordWriteFailed(ctx)
		}
		if wr.kind == writeLog {
			w.logger.Debug("Job log write failed", "error", err)
		} else {
			w.logger.Error("Job run write failed", "kind", wr.kind.String(), "error", err)
		}
		return
	}

	w.breaker.RecordSuccess()
	w.applied.Add(1)
	if w.metrics != nil {
		w.metrics.RecordWriteApplied(ctx)
		if wr.kind == writeLog {
			w.metrics.RecordLogEntry(ctx, wr.entry.Name)
		}
	}
}

func (w *writer) applyWithRetry(ctx context.Context, wr write) error {
	var lastErr error
	for attempt := range w.cfg.retries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, w.cfg.backoff)):
			}
		}

		lastErr = w.do(ctx, wr)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (w *writer) do(ctx context.Context, wr write) error {
	switch wr.kind {
	case writeUpsert:
		return w.st.UpsertRun(ctx, wr.run)
	case writeUpdate:
		return w.st.UpdateRun(ctx, w.jobID, wr.update)
	case writeLog:
		return w.st.AppendLog(ctx, wr.entry)
	default:
		return nil
	}
}
