// Package workerpool runs a bounded number of goroutines pulling tasks
// off a shared queue, the way the network proxy fans concurrent copy
// loops out under one errgroup.Group and collects their errors.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to a Pool.
type Task func(ctx context.Context) error

// Pool runs up to size Tasks concurrently, drawn from a shared,
// bounded submission channel. The engine uses it for the reader pool;
// its processor workers are plain goroutines started by Engine.Run.
type Pool struct {
	size  int
	tasks chan Task

	mu      sync.Mutex
	grp     *errgroup.Group
	ctx     context.Context
	started bool
}

// New returns a Pool with the given worker count and submission queue
// depth. Submit blocks once the queue is full.
func New(size, queueDepth int) *Pool {
	return &Pool{
		size:  size,
		tasks: make(chan Task, queueDepth),
	}
}

// Start launches size worker goroutines under grp, each pulling Tasks
// from the queue until ctx is canceled or the queue is closed. Start
// must be called once; it is not safe to call Submit before Start.
func (p *Pool) Start(ctx context.Context) *errgroup.Group {
	var grp, grpCtx = errgroup.WithContext(ctx)

	p.mu.Lock()
	p.grp = grp
	p.ctx = grpCtx
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		grp.Go(func() error {
			return p.worker(grpCtx)
		})
	}
	return grp
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-p.tasks:
			if !ok {
				return nil
			}
			if err := task(ctx); err != nil {
				return err
			}
		}
	}
}

// Submit enqueues task for execution by an idle worker. It blocks if
// the queue is full, and returns ctx.Err() if ctx is canceled first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals workers to exit once the submission queue drains.
// Callers must not Submit after calling Close.
func (p *Pool) Close() {
	close(p.tasks)
}
