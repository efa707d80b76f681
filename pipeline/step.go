// Package pipeline runs an ordered list of named steps for one patch
// attempt. Steps execute strictly in order; the first failure halts the
// attempt and later steps stay pending.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/modpatch/types"
)

// ErrSkipped is returned (possibly wrapped) by a step whose outputs were
// already available, e.g. a cache hit. The step ends in StepSkipped.
var ErrSkipped = errors.New("step skipped")

// Skip returns an ErrSkipped carrying reason as the step detail.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// Step is one unit of work in a pipeline. Implementations embed Base to
// provide Status.
type Step interface {
	Name() string
	Group() types.StepGroup
	Execute(ctx context.Context, c *Container) error
	Status() *Status
}

// Status is the observable state of a step. Safe for concurrent use.
type Status struct {
	mu       sync.Mutex
	state    types.StepState
	started  time.Time
	duration time.Duration
	progress float64
	detail   string
	notify   func()
}

// Base supplies the Status of a step.
type Base struct {
	status Status
}

// Status returns the step status.
func (b *Base) Status() *Status { return &b.status }

// State returns the current state.
func (s *Status) State() types.StepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return types.StepPending
	}
	return s.state
}

// Duration returns the running or final duration.
func (s *Status) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StepRunning {
		return time.Since(s.started)
	}
	return s.duration
}

// Progress returns the completed fraction in [0, 1].
func (s *Status) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Detail returns the latest human-readable detail.
func (s *Status) Detail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail
}

// SetProgress records progress for a running step and notifies the
// observer. fraction is clamped to [0, 1].
func (s *Status) SetProgress(fraction float64, detail string) {
	s.mu.Lock()
	s.progress = min(max(fraction, 0), 1)
	if detail != "" {
		s.detail = detail
	}
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// SetDetail updates the detail without changing progress.
func (s *Status) SetDetail(detail string) {
	s.SetProgress(s.Progress(), detail)
}

func (s *Status) start(notify func()) {
	s.mu.Lock()
	s.state = types.StepRunning
	s.started = time.Now()
	s.progress = 0
	s.notify = notify
	s.mu.Unlock()
}

// finish moves a running step to state. StepPending resets a step that
// was interrupted by cancellation.
func (s *Status) finish(state types.StepState, detail string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.notify = nil
	switch state {
	case types.StepPending:
		s.duration = 0
		s.progress = 0
		return 0
	case types.StepSuccess, types.StepSkipped:
		s.progress = 1
	}
	if detail != "" {
		s.detail = detail
	}
	s.duration = time.Since(s.started)
	return s.duration
}

// StepSnapshot is a point-in-time copy of one step's status.
type StepSnapshot struct {
	Name       string          `json:"name"`
	Group      types.StepGroup `json:"group"`
	State      types.StepState `json:"state"`
	DurationMs int64           `json:"duration_ms"`
	Progress   float64         `json:"progress"`
	Detail     string          `json:"detail,omitempty"`
}

// Snapshot is the observable state of every step of an attempt.
type Snapshot struct {
	AttemptID string         `json:"attempt_id"`
	Steps     []StepSnapshot `json:"steps"`
}

// Current returns the index of the running step, or -1.
func (s Snapshot) Current() int {
	for i, st := range s.Steps {
		if st.State == types.StepRunning {
			return i
		}
	}
	return -1
}

func snapshotOf(attemptID string, steps []Step) Snapshot {
	out := Snapshot{AttemptID: attemptID, Steps: make([]StepSnapshot, len(steps))}
	for i, st := range steps {
		s := st.Status()
		out.Steps[i] = StepSnapshot{
			Name:       st.Name(),
			Group:      st.Group(),
			State:      s.State(),
			DurationMs: s.Duration().Milliseconds(),
			Progress:   s.Progress(),
			Detail:     s.Detail(),
		}
	}
	return out
}

// StepError reports the failure of one step.
type StepError struct {
	Step     string
	Group    types.StepGroup
	Duration time.Duration
	// Stack is set when the step panicked.
	Stack string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
