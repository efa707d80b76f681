package pipeline

import (
	"context"
	"sync"
)

// Attempt is a runner executing in the background.
type Attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Wait blocks until the attempt ends.
func (a *Attempt) Wait() (*Result, error) {
	<-a.done
	return a.result, a.err
}

// Done is closed when the attempt ends.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Cancel requests cancellation. It does not wait.
func (a *Attempt) Cancel() {
	a.cancel()
}

// Supervisor allows at most one attempt at a time. Starting a new attempt
// cancels the previous one and waits for it to release the work directory.
type Supervisor struct {
	mu      sync.Mutex
	current *Attempt
}

// Start cancels and drains any in-flight attempt, then builds and starts a
// new one. build runs only after the previous attempt has fully stopped.
func (s *Supervisor) Start(ctx context.Context, build func() (*Runner, error)) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil {
		prev.Cancel()
		<-prev.done
		s.current = nil
	}

	r, err := build()
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithCancel(ctx)
	a := &Attempt{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel()
		a.result, a.err = r.Execute(actx)
	}()
	s.current = a
	return a, nil
}

// Current returns the most recently started attempt, or nil.
func (s *Supervisor) Current() *Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stop cancels the in-flight attempt and waits for it.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
		<-s.current.done
		s.current = nil
	}
}
