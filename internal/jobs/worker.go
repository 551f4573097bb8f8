package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrQueueFull   = errors.New("worker pool queue full")
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

// Job is a unit of background work. ctx is the pool context.
type Job func(ctx context.Context)

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	workers int
	queue   chan Job
	logger  *zap.Logger

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool. Non-positive sizes fall back to the defaults.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		logger:  logger,
	}
}

// Start launches the workers and returns immediately. Workers exit when ctx
// is cancelled or after Stop has drained the queue.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopped: context cancelled", zap.Int("worker", id))
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, id, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Int("worker", id), zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	job(ctx)
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, lets the workers finish the queued ones and waits
// for them to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.logger.Info("worker pool shutdown complete")
}
