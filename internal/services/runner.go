package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Runner adapts a blocking function into a Service. The function runs in
// its own goroutine from Start until Stop cancels its context.
type Runner struct {
	name string
	run  func(ctx context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewRunner wraps run. run must return once its context is cancelled.
func NewRunner(name string, run func(ctx context.Context) error) *Runner {
	return &Runner{name: name, run: run}
}

// Name returns the service name.
func (r *Runner) Name() string { return r.name }

// Start launches run. It survives cancellation of ctx; only Stop ends it.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("%s already running", r.name)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.lastErr = nil

	go func() {
		defer close(done)
		err := r.run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
	}()
	return nil
}

// Stop cancels run and waits for it to return, or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%s did not stop: %w", r.name, ctx.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = nil
	r.done = nil
	return r.lastErr
}

// Status reports whether run is still executing and its last error.
func (r *Runner) Status() ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := ServiceStatus{Name: r.name}
	if r.done != nil {
		select {
		case <-r.done:
		default:
			st.Running = true
		}
	}
	if r.lastErr != nil {
		st.Error = r.lastErr.Error()
	}
	return st
}
