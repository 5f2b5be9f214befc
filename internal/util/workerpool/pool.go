package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned by TrySubmit when no queue slot is free
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is a unit of work. Ctx is passed to Fn; a nil Ctx means Background.
type Task struct {
	Name string
	Ctx  context.Context
	Fn   func(context.Context) error
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue
type WorkerPool struct {
	name     string
	workers  int
	queue    chan Task
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	active    int32
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
}

// Config holds worker pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// New creates and starts a worker pool
func New(cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &WorkerPool{
		name:     cfg.Name,
		workers:  cfg.Workers,
		queue:    make(chan Task, cfg.QueueSize),
		logger:   cfg.Logger.With(zap.String("pool", cfg.Name)),
		stopChan: make(chan struct{}),
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.queue:
			p.run(id, task)
		}
	}
}

func (p *WorkerPool) run(workerID int, task Task) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	start := time.Now()
	err := p.safeRun(task)

	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Debug("Task failed",
			zap.Int("worker_id", workerID),
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
}

// safeRun turns a panicking task into a failed one
func (p *WorkerPool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return task.Fn(ctx)
}

// Submit queues a task, blocking until a slot frees, ctx ends or the pool stops
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("%w: %s", ErrStopped, p.name)
	default:
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("%w: %s", ErrStopped, p.name)
	case <-ctx.Done():
		atomic.AddUint64(&p.rejected, 1)
		return ctx.Err()
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	}
}

// TrySubmit queues a task without blocking
func (p *WorkerPool) TrySubmit(task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("%w: %s", ErrStopped, p.name)
	default:
	}

	select {
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	default:
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// Stop stops accepting work and waits for running tasks until timeout.
// Queued tasks that have not started are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout")
		}
	})
	return err
}

// Stats returns a point-in-time view of the pool counters
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    int(atomic.LoadInt32(&p.active)),
		Queued:    len(p.queue),
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}
