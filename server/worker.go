package server

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Worker is one pool execution context bound to a single goroutine.
type Worker struct {
	id        int
	pool      *WorkerPool
	busy      atomic.Bool
	completed atomic.Uint64
}

func newWorker(id int, pool *WorkerPool) *Worker {
	return &Worker{
		id:   id,
		pool: pool,
	}
}

func (w *Worker) isBusy() bool {
	return w.busy.Load()
}

func (w *Worker) run() {
	defer w.pool.wg.Done()

	logger := log.With().Str("component", "pool").Int("worker", w.id).Logger()

	for {
		job, ok := w.pool.next()
		if !ok {
			logger.Debug().Msg("queue closed, worker exiting")
			return
		}

		logger.Debug().Msg("got a job; executing")
		w.execute(job, logger)
	}
}

// execute runs job to completion. A panicking job is logged and the
// worker stays in the pool.
func (w *Worker) execute(job Job, logger zerolog.Logger) {
	w.busy.Store(true)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
		}
		w.busy.Store(false)
		w.completed.Add(1)
	}()

	job()
}
