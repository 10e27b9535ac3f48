package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("worker: queue full")
var ErrStopped = errors.New("worker: pool stopped")

type Task func(ctx context.Context) error

// ErrorFunc receives task errors and recovered panics.
type ErrorFunc func(err error)

// Pool runs tasks on a fixed number of goroutines with a bounded queue.
// Submit never blocks.
type Pool struct {
	workers int
	timeout time.Duration
	onError ErrorFunc

	mu      sync.RWMutex
	stopped bool
	tasks   chan Task
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewPool(workers, queueSize int, timeout time.Duration, onError ErrorFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Pool{
		workers: workers,
		timeout: timeout,
		onError: onError,
		tasks:   make(chan Task, queueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(ctx, task)
	}
}

func (p *Pool) execute(ctx context.Context, task Task) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.onError(fmt.Errorf("worker: panic: %v\n%s", r, debug.Stack()))
		}
	}()
	if err := task(ctx); err != nil {
		p.onError(err)
	}
}

func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued tasks to finish, or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}
