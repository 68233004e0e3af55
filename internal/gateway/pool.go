package gateway

import (
	"log/slog"
	"sync"
)

// Pool is a bounded worker pool for asynchronous message processing. Enqueue
// blocks when the queue is full so webhook producers are backpressured
// instead of dropping work.
type Pool struct {
	logger  *slog.Logger
	queue   chan func()
	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(log *slog.Logger, workers, queueSize int) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		logger:  log.With(slog.String("component", "worker_pool")),
		queue:   make(chan func(), queueSize),
		workers: workers,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Enqueue submits a task, blocking while the queue is full.
func (p *Pool) Enqueue(task func()) {
	p.queue <- task
}

// Stop drains the queue and waits for in-flight tasks to finish. The pool
// cannot be reused afterwards.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", slog.Any("panic", r))
		}
	}()
	task()
}
