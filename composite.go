package jobtrack

import (
	"context"
	"errors"
	"fmt"

	"jobtrack/store"
)

// StatusPartial is the terminal status a composite reports when some, but
// not all, of its children failed.
const StatusPartial = "PARTIAL"

// Composite orchestrates child jobs as slices of one larger unit of work.
//
// Each child runs with its own runner and run record; the composite scales
// every progress increment a child reports by that child's work-weight and
// forwards the scaled increment to its own runner. The runner base never
// applies the scaling itself — weight math belongs here.
//
// Children run in order. A failing child does not stop the remaining
// children; the composite's terminal status reflects the aggregate outcome:
// COMPLETED (all succeeded), PARTIAL (some failed), or ERRORED (all failed).
type Composite struct {
	runner   *Runner
	children []compositeChild
}

type compositeChild struct {
	job    Job
	runner *Runner
}

// NewComposite creates a composite reporting through r.
func NewComposite(r *Runner) *Composite {
	return &Composite{runner: r}
}

// Runner returns the composite's own runner.
func (c *Composite) Runner() *Runner {
	return c.runner
}

// Add registers a child job with the fraction of the composite's total work
// it accounts for. The weight must be in (0, 1]; an invalid weight is
// rejected before the child is registered. Weights of all children should
// sum to 1 for the composite's progress to land at 100.
func (c *Composite) Add(j Job, r *Runner, weight float64) error {
	if err := r.SetChunkOfWorkPercentage(weight); err != nil {
		return err
	}
	r.observeProgress(func(inc float64) {
		c.runner.OnUpdate(inc*r.ChunkOfWorkPercentage(), "")
	})
	c.children = append(c.children, compositeChild{job: j, runner: r})
	return nil
}

// Run starts the composite's own record, runs every child in order, and
// completes with the aggregate outcome. Child errors are joined into the
// persisted error detail and returned.
func (c *Composite) Run(ctx context.Context) error {
	c.runner.OnStart("")

	var errs []error
	var cancelled bool
	for _, child := range c.children {
		if err := ctx.Err(); err != nil {
			cancelled = true
			errs = append(errs, err)
			break
		}
		if err := child.job.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.runner.Name(), err))
		}
	}

	err := errors.Join(errs...)
	switch {
	case len(errs) == 0:
		c.runner.OnCompleted("", nil)
	case cancelled || len(errs) >= len(c.children):
		// A cancelled composite is errored even when earlier children
		// finished; PARTIAL is reserved for child failures.
		c.runner.OnCompleted(store.StatusErrored, err)
	default:
		c.runner.OnCompleted(StatusPartial, err)
	}
	return err
}

// Verify Composite implements Job
var _ Job = (*Composite)(nil)
