package jobtrack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"jobtrack/apperrors"
	"jobtrack/store"
)

// failStore fails every operation. Used to prove persistence failures stay
// on the detached write path.
type failStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failStore) bump() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("store unavailable")
}

func (f *failStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *failStore) UpsertRun(ctx context.Context, run store.Run) error { return f.bump() }
func (f *failStore) UpdateRun(ctx context.Context, id string, upd store.RunUpdate) error {
	return f.bump()
}
func (f *failStore) AppendLog(ctx context.Context, entry store.LogEntry) error { return f.bump() }
func (f *failStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	return store.Run{}, f.bump()
}
func (f *failStore) Logs(ctx context.Context, jobID string) ([]store.LogEntry, error) {
	return nil, f.bump()
}

// newTestRunner creates a runner with small retry budget and registers a
// drain on test cleanup.
func newTestRunner(t *testing.T, st store.Store, opts Options) *Runner {
	t.Helper()
	if opts.WriteRetries == 0 {
		opts.WriteRetries = 1
	}
	r, err := New(st, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

// drain flushes the runner's write queue so store state can be asserted
// synchronously.
func drain(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Options{})
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNew_Identity(t *testing.T) {
	t.Parallel()

	t.Run("supplied id and name honored", func(t *testing.T) {
		t.Parallel()
		r := newTestRunner(t, store.NewMemory(), Options{ID: "job-42", Name: "reindex"})
		if r.ID() != "job-42" {
			t.Errorf("ID() = %q, want %q", r.ID(), "job-42")
		}
		if r.Name() != "reindex" {
			t.Errorf("Name() = %q, want %q", r.Name(), "reindex")
		}
	})

	t.Run("generated ids are non-empty and distinct", func(t *testing.T) {
		t.Parallel()
		a := newTestRunner(t, store.NewMemory(), Options{})
		b := newTestRunner(t, store.NewMemory(), Options{})
		if a.ID() == "" || b.ID() == "" {
			t.Fatal("expected generated ids to be non-empty")
		}
		if a.ID() == b.ID() {
			t.Errorf("expected distinct ids, both %q", a.ID())
		}
	})

	t.Run("name falls back to id", func(t *testing.T) {
		t.Parallel()
		r := newTestRunner(t, store.NewMemory(), Options{ID: "job-7"})
		if r.Name() != "job-7" {
			t.Errorf("Name() = %q, want id fallback %q", r.Name(), "job-7")
		}
	})

	t.Run("injected id generator used", func(t *testing.T) {
		t.Parallel()
		r := newTestRunner(t, store.NewMemory(), Options{NewID: func() string { return "fixed" }})
		if r.ID() != "fixed" {
			t.Errorf("ID() = %q, want %q", r.ID(), "fixed")
		}
	})
}

func TestSetChunkOfWorkPercentage(t *testing.T) {
	t.Parallel()

	invalid := []struct {
		name  string
		value float64
	}{
		{"zero", 0},
		{"negative", -0.25},
		{"above one", 1.01},
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRunner(t, store.NewMemory(), Options{ID: "j"})
			if err := r.SetChunkOfWorkPercentage(0.5); err != nil {
				t.Fatalf("SetChunkOfWorkPercentage(0.5): %v", err)
			}

			err := r.SetChunkOfWorkPercentage(tt.value)
			if !errors.Is(err, apperrors.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument for %v, got %v", tt.value, err)
			}
			if got := r.ChunkOfWorkPercentage(); got != 0.5 {
				t.Errorf("previous value not retained: got %v, want 0.5", got)
			}
		})
	}

	t.Run("valid values round-trip", func(t *testing.T) {
		t.Parallel()
		r := newTestRunner(t, store.NewMemory(), Options{ID: "j"})
		for _, v := range []float64{0.001, 0.25, 0.5, 1} {
			if err := r.SetChunkOfWorkPercentage(v); err != nil {
				t.Fatalf("SetChunkOfWorkPercentage(%v): %v", v, err)
			}
			if got := r.ChunkOfWorkPercentage(); got != v {
				t.Errorf("ChunkOfWorkPercentage() = %v, want %v", got, v)
			}
		}
	})

	t.Run("defaults to one", func(t *testing.T) {
		t.Parallel()
		r := newTestRunner(t, store.NewMemory(), Options{ID: "j"})
		if got := r.ChunkOfWorkPercentage(); got != 1 {
			t.Errorf("default ChunkOfWorkPercentage() = %v, want 1", got)
		}
	})
}

func TestOnStart(t *testing.T) {
	t.Parallel()

	t.Run("defaults to RUNNING with progress 0", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1", Name: "reindex"})

		r.OnStart("")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != store.StatusRunning {
			t.Errorf("status = %q, want %q", run.Status, store.StatusRunning)
		}
		if run.Progress != 0 {
			t.Errorf("progress = %v, want 0", run.Progress)
		}
		if run.Name != "reindex" {
			t.Errorf("name = %q, want %q", run.Name, "reindex")
		}
	})

	t.Run("caller-supplied status honored", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1"})

		r.OnStart("WARMING_UP")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != "WARMING_UP" {
			t.Errorf("status = %q, want %q", run.Status, "WARMING_UP")
		}
	})
}

func TestOnUpdate(t *testing.T) {
	t.Parallel()

	t.Run("increments are additive", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1"})

		r.OnStart("")
		r.OnUpdate(10, "")
		r.OnUpdate(15, "")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Progress != 25 {
			t.Errorf("progress = %v, want 25 (cumulative)", run.Progress)
		}
	})

	t.Run("status-only update", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1"})

		r.OnStart("")
		r.OnUpdate(0, "DRAINING")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != "DRAINING" {
			t.Errorf("status = %q, want %q", run.Status, "DRAINING")
		}
		if run.Progress != 0 {
			t.Errorf("progress = %v, want 0", run.Progress)
		}
	})

	t.Run("no persistable fields is a no-op", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1"})

		r.OnStart("")
		r.OnUpdate(math.NaN(), "")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != store.StatusRunning || run.Progress != 0 {
			t.Errorf("expected record untouched, got %+v", run)
		}
		// Only the upsert and the audit log line reached the store.
		if stats := r.WriteStats(); stats.Enqueued != 2 {
			t.Errorf("enqueued = %d, want 2 (upsert + audit line)", stats.Enqueued)
		}
	})

	t.Run("zero increment still persists", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1"})

		// Zero is a valid number: the update is issued and touches the
		// record even though progress does not move.
		r.OnStart("")
		r.OnUpdate(0, "")
		drain(t, r)

		run, err := mem.GetRun(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Progress != 0 {
			t.Errorf("progress = %v, want 0", run.Progress)
		}
		// Upsert, the audit line, and the zero-increment update.
		if stats := r.WriteStats(); stats.Enqueued != 3 || stats.Applied != 3 {
			t.Errorf("stats = %+v, want 3 enqueued and 3 applied (upsert + audit line + update)", stats)
		}
	})

	t.Run("emits audit log entry", func(t *testing.T) {
		t.Parallel()
		mem := store.NewMemory()
		r := newTestRunner(t, mem, Options{ID: "j1", Name: "reindex"})

		r.OnStart("")
		r.OnUpdate(50, "RUNNING")
		drain(t, r)

		logs, err := mem.Logs(context.Background(), "j1")
		if err != nil {
			t.Fatalf("Logs: %v", err)
		}
		if len(logs) != 1 {
			t.Fatalf("expected 1 audit entry, got %d", len(logs))
		}
		if !strings.HasPrefix(logs[0].Message, "reindex: ") {
			t.Errorf("expected name-prefixed message, got %q", logs[0].Message)
		}
		if !strings.Contains(logs[0].Message, "increment=50") {
			t.Errorf("expected increment in audit line, got %q", logs[0].Message)
		}
	})
}

func TestOnCompleted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     string
		err        error
		wantStatus string
		wantError  string
	}{
		{
			name:       "no arguments defaults to COMPLETED",
			wantStatus: store.StatusCompleted,
		},
		{
			name:       "error defaults status to ERRORED",
			err:        errors.New("index corrupt"),
			wantStatus: store.StatusErrored,
			wantError:  "index corrupt",
		},
		{
			name:       "caller status honored alongside error",
			status:     "PARTIAL",
			err:        errors.New("3 of 7 batches failed"),
			wantStatus: "PARTIAL",
			wantError:  "3 of 7 batches failed",
		},
		{
			name:       "caller status honored without error",
			status:     "ARCHIVED",
			wantStatus: "ARCHIVED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mem := store.NewMemory()
			r := newTestRunner(t, mem, Options{ID: "j1"})

			r.OnStart("")
			r.OnUpdate(30, "")
			r.OnCompleted(tt.status, tt.err)
			drain(t, r)

			run, err := mem.GetRun(context.Background(), "j1")
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if run.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", run.Status, tt.wantStatus)
			}
			if run.Progress != 100 {
				t.Errorf("progress = %v, want forced 100", run.Progress)
			}
			if run.Error != tt.wantError {
				t.Errorf("error = %q, want %q", run.Error, tt.wantError)
			}
		})
	}
}

func TestOnCompleted_FirstCallWins(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	r := newTestRunner(t, mem, Options{ID: "j1"})

	r.OnStart("")
	r.OnCompleted("", nil)
	r.OnCompleted(store.StatusErrored, errors.New("late failure"))
	drain(t, r)

	run, err := mem.GetRun(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.StatusCompleted {
		t.Errorf("status = %q, want first completion %q", run.Status, store.StatusCompleted)
	}
	if run.Error != "" {
		t.Errorf("error = %q, want empty", run.Error)
	}
}

func TestLog(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()

	var sink bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&sink, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := newTestRunner(t, mem, Options{ID: "j1", Name: "reindex", WorkerID: "w-9", Logger: logger})

	r.Log("x=%d", 5)
	drain(t, r)

	logs, err := mem.Logs(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.Message != "reindex: x=5" {
		t.Errorf("message = %q, want %q", entry.Message, "reindex: x=5")
	}
	if entry.JobID != "j1" || entry.WorkerID != "w-9" || entry.Name != "reindex" {
		t.Errorf("unexpected entry attribution: %+v", entry)
	}
	if entry.Metadata == nil || len(entry.Metadata) != 0 {
		t.Errorf("metadata should be empty but present, got %v", entry.Metadata)
	}

	// Same content reaches the diagnostic sink at debug severity.
	if !strings.Contains(sink.String(), "reindex: x=5") {
		t.Errorf("diagnostic sink missing message, got %q", sink.String())
	}
}

func TestPersistenceFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()
	fs := &failStore{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := newTestRunner(t, fs, Options{ID: "j1", Logger: logger, WriteRetries: 1})

	// None of these may panic or surface an error.
	r.OnStart("")
	r.OnUpdate(10, "")
	r.OnCompleted("", nil)
	r.Log("still %s", "running")
	drain(t, r)

	stats := r.WriteStats()
	if stats.Failed == 0 {
		t.Error("expected failed writes to be counted")
	}
	if stats.Applied != 0 {
		t.Errorf("expected no applied writes, got %d", stats.Applied)
	}
	if fs.callCount() == 0 {
		t.Error("expected store to have been attempted")
	}
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	r := newTestRunner(t, mem, Options{Name: "reindex"})

	r.OnStart("")
	r.OnUpdate(50, "RUNNING")
	r.OnUpdate(50, "")
	r.OnCompleted("", nil)
	drain(t, r)

	run, err := mem.GetRun(context.Background(), r.ID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	want := fmt.Sprintf("{name: reindex, status: %s, progress: 100, error: unset}", store.StatusCompleted)
	got := fmt.Sprintf("{name: %s, status: %s, progress: %v, error: %s}",
		run.Name, run.Status, run.Progress, errorState(run.Error))
	if got != want {
		t.Errorf("final record = %s, want %s", got, want)
	}
}

func errorState(detail string) string {
	if detail == "" {
		return "unset"
	}
	return "set"
}
