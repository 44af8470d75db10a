// Package worker runs long-lived device simulations on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
)

// Task represents a unit of work. It must return once ctx is done.
type Task func(context.Context)

// Config sizes a Pool.
type Config struct {
	Workers    int
	MaxBacklog int
	// TaskTimeout bounds each task; 0 lets tasks run until the pool stops.
	TaskTimeout time.Duration
}

// Pool manages a pool of workers.
type Pool struct {
	workers     int
	tasks       chan Task
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	maxBacklog  int
	taskTimeout time.Duration
	active      int32
	completed   int64
	shutdown    bool
	mu          sync.RWMutex
}

// NewPool starts cfg.Workers workers whose task contexts derive from parent.
func NewPool(parent context.Context, cfg Config) *Pool {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = 100
	}

	p := &Pool{
		workers:     cfg.Workers,
		tasks:       make(chan Task, cfg.MaxBacklog),
		ctx:         ctx,
		cancel:      cancel,
		maxBacklog:  cfg.MaxBacklog,
		taskTimeout: cfg.TaskTimeout,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(id, task)
		}
	}
}

// run executes one task with panic recovery.
func (p *Pool) run(id int, task Task) {
	atomic.AddInt32(&p.active, 1)
	defer func() {
		atomic.AddInt32(&p.active, -1)
		atomic.AddInt64(&p.completed, 1)
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"worker_id": id,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("Worker panic recovered")
		}
	}()

	taskCtx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(p.ctx, p.taskTimeout)
	}
	defer cancel()
	task(taskCtx)
}

// Submit adds a task to the pool without blocking.
func (p *Pool) Submit(task Task) error {
	// The read lock keeps Shutdown from closing the queue mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// SubmitWait adds a task to the pool and waits up to timeout for space.
func (p *Pool) SubmitWait(task Task, timeout time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrPoolShutdown
	}

	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Stop cancels every running task's context without closing the queue.
func (p *Pool) Stop() {
	p.cancel()
}

// Shutdown stops accepting tasks and waits for workers to drain. Running
// tasks are cancelled if they have not returned before timeout.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	p.mu.Unlock()

	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrShutdownTimeout
	}
}

// Size returns the number of pending tasks.
func (p *Pool) Size() int {
	return len(p.tasks)
}

// Capacity returns the maximum backlog size.
func (p *Pool) Capacity() int {
	return p.maxBacklog
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	return int(atomic.LoadInt32(&p.active))
}

// Completed returns the number of tasks that have returned.
func (p *Pool) Completed() int64 {
	return atomic.LoadInt64(&p.completed)
}

// Errors.
var (
	ErrPoolFull        = errors.New("worker pool is full")
	ErrPoolShutdown    = errors.New("worker pool is shut down")
	ErrTimeout         = errors.New("timeout waiting for worker")
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)
