package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/observability"
)

var (
	defaultNumWorkers  uint = 3
	defaultQueueSize   uint = 256
	defaultTaskTimeout      = 2 * time.Minute
)

// Task is a unit of background work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PoolConfig is the configuration for the background pool.
type PoolConfig struct {
	// NumWorkers is the number of background workers. Default: 3
	NumWorkers uint

	// QueueSize is the capacity of the task queue. Default: 256
	QueueSize uint

	// TaskTimeout bounds each task's context. Default: 2m
	TaskTimeout time.Duration

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Pool runs post-reply work (buffer appends, memory writes, compaction)
// off the request path. Task failures are logged and sent to Errors.
type Pool struct {
	config *PoolConfig
	queue  chan Task
	errs   chan error
	logger *zap.Logger

	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ memory.Scheduler = (*Pool)(nil)

// NewPool creates a pool and starts its workers.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c == nil {
		c = &PoolConfig{}
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		config: c,
		queue:  make(chan Task, c.QueueSize),
		errs:   make(chan error, c.QueueSize),
		logger: logger.Named("pool"),
	}

	p.workers.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}
	return p, nil
}

// Enqueue submits fn. It returns false when the queue is full or the pool is
// closed; the task is dropped.
func (p *Pool) Enqueue(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("task not queued, pool closed", zap.String("task", name))
		return false
	}

	p.pending.Add(1)
	select {
	case p.queue <- Task{Name: name, Fn: fn}:
		p.logger.Debug("task queued", zap.String("task", name))
		return true
	default:
		p.pending.Done()
		p.config.Metrics.TaskDropped()
		p.logger.Error("task not queued, queue full, task dropped", zap.String("task", name))
		return false
	}
}

// Errors returns task failures. Failures are dropped when nobody reads and
// the channel is full.
func (p *Pool) Errors() <-chan error {
	return p.errs
}

// Wait blocks until every queued task, including tasks enqueued by running
// tasks, has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close stops accepting tasks and waits for queued ones to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.workers.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.workers.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for task := range p.queue {
		p.run(task)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) run(task Task) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.TaskTimeout)
	defer cancel()

	if err := task.Fn(ctx); err != nil {
		p.logger.Error("background task failed", zap.String("task", task.Name), zap.Error(err))
		select {
		case p.errs <- fmt.Errorf("task %s: %w", task.Name, err):
		default:
		}
	}
}
