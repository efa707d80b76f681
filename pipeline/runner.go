package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/modpatch/log"
	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/types"
)

// Container is the shared context handed to every step of an attempt.
type Container struct {
	// AttemptID identifies the attempt in logs and records.
	AttemptID string
	// WorkDir holds intermediate files. It is removed on cancellation and
	// when a step fails.
	WorkDir string
	// KeepWorkDir leaves WorkDir in place after a failed step.
	KeepWorkDir bool
	// Logger carries attempt context. Never nil once the runner starts.
	Logger *log.Logger
	// Metrics is optional; all Collector methods are nil-safe.
	Metrics *metrics.Collector

	steps []Step
}

// Require returns the completed step of type T. A step that has not run or
// did not complete yields types.ErrDependencyUnavailable.
func Require[T Step](c *Container) (T, error) {
	var zero T
	for _, s := range c.steps {
		t, ok := s.(T)
		if !ok {
			continue
		}
		if !s.Status().State().Completed() {
			return zero, fmt.Errorf("%w: %s is %s", types.ErrDependencyUnavailable, s.Name(), s.Status().State())
		}
		return t, nil
	}
	return zero, fmt.Errorf("%w: no %T in pipeline", types.ErrDependencyUnavailable, zero)
}

// Observer receives a snapshot after every state or progress change.
// It is called synchronously from the step goroutine and must not block.
type Observer func(Snapshot)

// CompletionHook is invoked once an attempt ends in success or error.
// Hooks never run for a cancelled attempt.
type CompletionHook interface {
	Complete(ctx context.Context, res *Result) error
}

// CompletionFunc adapts a function to CompletionHook.
type CompletionFunc func(ctx context.Context, res *Result) error

// Complete implements CompletionHook.
func (f CompletionFunc) Complete(ctx context.Context, res *Result) error { return f(ctx, res) }

// Result is the outcome of one attempt.
type Result struct {
	AttemptID  string               `json:"attempt_id"`
	StartedAt  time.Time            `json:"started_at"`
	Duration   time.Duration        `json:"duration"`
	Outcome    types.AttemptOutcome `json:"outcome"`
	Steps      []StepSnapshot       `json:"steps"`
	Metrics    metrics.Snapshot     `json:"metrics"`
	Transcript string               `json:"-"`
}

// ErrAlreadyExecuted is returned when a runner is executed twice.
var ErrAlreadyExecuted = errors.New("runner already executed")

// hookTimeout bounds each completion hook.
const hookTimeout = 30 * time.Second

// Runner executes steps in order.
type Runner struct {
	steps     []Step
	container *Container
	observer  Observer
	hooks     []CompletionHook
	started   atomic.Bool
}

// NewRunner creates a runner over steps. A nil Logger in c is replaced
// with a Nop logger.
func NewRunner(c *Container, steps ...Step) *Runner {
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	c.steps = steps
	return &Runner{steps: steps, container: c}
}

// Observe sets the observer.
func (r *Runner) Observe(o Observer) *Runner {
	r.observer = o
	return r
}

// OnComplete appends completion hooks.
func (r *Runner) OnComplete(h ...CompletionHook) *Runner {
	r.hooks = append(r.hooks, h...)
	return r
}

// Steps returns the step list.
func (r *Runner) Steps() []Step {
	return r.steps
}

// Snapshot returns the current state of every step.
func (r *Runner) Snapshot() Snapshot {
	return snapshotOf(r.container.AttemptID, r.steps)
}

func (r *Runner) notify() {
	if r.observer != nil {
		r.observer(r.Snapshot())
	}
}

// Execute runs every step in order.
//
// The first failing step halts the attempt: Execute returns the Result
// together with a *StepError wrapping the cause. On cancellation the
// in-flight step returns to pending, the work directory is removed, no
// completion hook runs, and the error is types.ErrCancelled.
func (r *Runner) Execute(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	c := r.container
	logger := c.Logger
	start := time.Now()
	res := &Result{AttemptID: c.AttemptID, StartedAt: start}

	logger.Info("starting attempt", map[string]any{
		"steps":    len(r.steps),
		"work_dir": c.WorkDir,
	})
	r.notify()

	var failure *StepError
	for _, s := range r.steps {
		if ctx.Err() != nil {
			return r.cancelled(res, start)
		}

		status := s.Status()
		status.start(r.notify)
		r.notify()

		stack, err := r.run(ctx, s)

		if ctx.Err() != nil && err != nil {
			status.finish(types.StepPending, "")
			logger.Warn("step interrupted", map[string]any{"step": s.Name()})
			return r.cancelled(res, start)
		}

		var state types.StepState
		var detail string
		switch {
		case err == nil:
			state = types.StepSuccess
		case errors.Is(err, ErrSkipped):
			state = types.StepSkipped
			detail = skipReason(err)
		default:
			state = types.StepError
			detail = err.Error()
		}
		d := status.finish(state, detail)
		c.Metrics.ObserveStep(s.Name(), string(state), d.Milliseconds())
		r.notify()

		fields := map[string]any{
			"step":        s.Name(),
			"group":       s.Group(),
			"state":       state,
			"duration_ms": d.Milliseconds(),
		}
		if state != types.StepError {
			logger.Info("step finished", fields)
			continue
		}
		fields["error"] = err.Error()
		logger.Error("step failed", fields)
		failure = &StepError{Step: s.Name(), Group: s.Group(), Duration: d, Stack: stack, Err: err}
		break
	}

	res.Duration = time.Since(start)
	if failure != nil {
		res.Outcome = types.AttemptOutcome{
			Status:  types.OutcomeError,
			Message: failure.Err.Error(),
			Step:    failure.Step,
			Kind:    types.Classify(failure.Err),
		}
		if failure.Stack != "" {
			res.Outcome.Stack = &failure.Stack
		}
		if !c.KeepWorkDir {
			r.removeWorkDir()
		}
	} else {
		res.Outcome = types.AttemptOutcome{
			Status:  types.OutcomeSuccess,
			Message: "attempt completed successfully",
		}
	}
	logger.Info("attempt finished", map[string]any{
		"outcome":     res.Outcome.Status,
		"duration_ms": res.Duration.Milliseconds(),
	})
	r.finalize(res)
	r.complete(ctx, res)

	if failure != nil {
		return res, failure
	}
	return res, nil
}

// run executes one step, converting a panic into an error with its stack.
func (r *Runner) run(ctx context.Context, s Step) (stack string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			stack = string(debug.Stack())
		}
	}()
	return "", s.Execute(ctx, r.container)
}

// removeWorkDir discards the partially patched working copy.
func (r *Runner) removeWorkDir() {
	c := r.container
	if c.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(c.WorkDir); err != nil {
		c.Logger.Warn("failed to remove work dir", map[string]any{
			"work_dir": c.WorkDir,
			"error":    err.Error(),
		})
	}
}

func (r *Runner) cancelled(res *Result, start time.Time) (*Result, error) {
	c := r.container
	r.removeWorkDir()
	res.Duration = time.Since(start)
	res.Outcome = types.AttemptOutcome{
		Status:  types.OutcomeCancelled,
		Message: "attempt cancelled",
		Kind:    types.ErrorKindCancelled,
	}
	c.Logger.Info("attempt cancelled", map[string]any{"duration_ms": res.Duration.Milliseconds()})
	r.finalize(res)
	r.notify()
	return res, types.ErrCancelled
}

func (r *Runner) finalize(res *Result) {
	c := r.container
	res.Steps = r.Snapshot().Steps
	res.Metrics = c.Metrics.Snapshot()
	c.Logger.Sync()
	res.Transcript = c.Logger.Transcript().String()
}

// complete runs the hooks. Hook failures are logged and never change the
// outcome.
func (r *Runner) complete(ctx context.Context, res *Result) {
	for _, h := range r.hooks {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
		err := h.Complete(hctx, res)
		cancel()
		if err != nil {
			r.container.Logger.Warn("completion hook failed", map[string]any{
				"hook":  fmt.Sprintf("%T", h),
				"error": err.Error(),
			})
		}
	}
}

func skipReason(err error) string {
	if reason, ok := strings.CutPrefix(err.Error(), ErrSkipped.Error()+": "); ok {
		return reason
	}
	return ""
}
