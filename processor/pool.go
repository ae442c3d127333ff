package processor

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many CPU heavy or blocking jobs (inference, drawing,
// uploads) run at once across all in-flight requests.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewWorkerPool sizes the pool to the number of CPUs when size is not positive.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *WorkerPool) Size() int { return p.size }

// Do waits for a free worker and runs fn on the calling goroutine. It only
// fails when ctx ends before a worker frees up.
func (p *WorkerPool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

func runPooled[T any](ctx context.Context, p *WorkerPool, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if poolErr := p.Do(ctx, func() { out, err = fn() }); poolErr != nil {
		var zero T
		return zero, poolErr
	}
	return out, err
}
