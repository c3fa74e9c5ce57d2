// Package worker provides a bounded task pool for the parallel phases of the
// engine: candidate scoring and concurrent oracle calls.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs submitted tasks with bounded concurrency. Task errors are
// collected rather than cancelling the batch: one slow or failing task must
// not abort unrelated work.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	mu   sync.Mutex
	errs []error
}

// NewPool creates a pool running at most size tasks concurrently.
func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		logger: logger,
	}
}

// Submit schedules fn. It blocks while the pool is saturated, and skips the
// task entirely if ctx is cancelled first.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.record(ctx.Err())
		return
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			p.record(err)
		}
	}()
}

// Wait blocks until all submitted tasks finish and returns their errors.
func (p *Pool) Wait() []error {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	errs := p.errs
	p.errs = nil
	return errs
}

func (p *Pool) record(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Debug("Pool task error", zap.Error(err))
	}
}
