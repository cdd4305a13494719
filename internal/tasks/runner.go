// Package tasks runs fire-and-forget work as explicit background
// submissions with a defined completion and cancellation contract,
// instead of silently-dropped goroutines.
package tasks

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrRunnerClosed is returned by Submit after Close has begun.
var ErrRunnerClosed = errors.New("tasks: runner closed")

// Runner executes submitted tasks on background goroutines with bounded
// concurrency. Close cancels the shared context and waits for all
// in-flight tasks to finish.
type Runner struct {
	baseCtx context.Context
	cancel  context.CancelFunc

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner constructs a runner allowing up to maxConcurrent tasks.
func NewRunner(maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		baseCtx: ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Submit schedules fn on a background goroutine. The task receives a
// context cancelled by Close. Task errors are logged, never propagated;
// callers needing the error must capture it themselves.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) error {
	if r == nil {
		return ErrRunnerClosed
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
		case <-r.baseCtx.Done():
			log.Warnf("tasks: %s dropped, runner closing", name)
			return
		}
		defer func() { <-r.sem }()

		if errRun := fn(r.baseCtx); errRun != nil {
			log.WithError(errRun).Warnf("tasks: %s failed", name)
		}
	}()
	return nil
}

// Close stops accepting tasks, cancels the shared context, and waits for
// in-flight tasks to finish or ctx to expire.
func (r *Runner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
