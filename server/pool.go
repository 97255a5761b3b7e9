package server

import (
	"errors"
	"sync"
)

// Job is one unit of deferred work, typically a single connection's
// parse, dispatch and write sequence.
type Job func()

var (
	ErrInvalidPoolSize = errors.New("pool size must be greater than 0")
	ErrPoolClosed      = errors.New("pool is closed")
)

type PoolStats struct {
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
}

// WorkerPool runs jobs on a fixed set of long-lived workers that all
// consume from one shared queue. The queue is unbounded.
type WorkerPool struct {
	workers []*Worker

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Job
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool starts size workers, each blocked waiting for its first job.
func NewPool(size int) (*WorkerPool, error) {
	if size < 1 {
		return nil, ErrInvalidPoolSize
	}

	p := &WorkerPool{
		workers: make([]*Worker, 0, size),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		w := newWorker(i, p)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go w.run()
	}

	return p, nil
}

// Submit enqueues job. It fails with ErrPoolClosed once Close has begun;
// callers are expected to log and drop the job.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

// next blocks until a job is available. ok is false once the pool is
// closed and every queued job has been handed out.
func (p *WorkerPool) next() (job Job, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}

	job = p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return job, true
}

// Close stops accepting jobs and blocks until every worker has finished
// the jobs already queued and exited. It is safe to call more than once.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	p.wg.Wait()
}

func (p *WorkerPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.workers)
}

func (p *WorkerPool) Stats() PoolStats {
	stats := PoolStats{}
	if p == nil {
		return stats
	}

	stats.Workers = len(p.workers)
	for _, w := range p.workers {
		if w.isBusy() {
			stats.Busy++
		}
		stats.Completed += w.completed.Load()
	}

	p.mu.Lock()
	stats.Queued = len(p.queue)
	p.mu.Unlock()

	return stats
}
