package capsync

import (
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolReleased = errors.New("worker pool released")

type taskFn func()

// WorkerPool runs submitted functions on at most maxWorkers goroutines.
// Workers are started on demand and live until Release.
type WorkerPool struct {
	jobs       chan taskFn
	maxWorkers int
	workers    int
	done       chan struct{}
	logger     *zap.Logger

	mu       sync.Mutex
	doneOnce sync.Once
}

func NewPool(workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		jobs:       make(chan taskFn),
		done:       make(chan struct{}),
		maxWorkers: workers,
		logger:     logger,
	}
}

// Submit blocks until a worker accepts f or the pool is released.
func (w *WorkerPool) Submit(f taskFn) error {
	w.mu.Lock()
	if w.workers < w.maxWorkers {
		w.workers += 1
		w.addWorker()
	}
	w.mu.Unlock()

	select {
	case w.jobs <- f:
		return nil
	case <-w.done:
		return ErrPoolReleased
	}
}

func (w *WorkerPool) addWorker() {
	go func() {
		for {
			select {
			case job := <-w.jobs:
				w.run(job)
			case <-w.done:
				return
			}
		}
	}()
}

func (w *WorkerPool) run(job taskFn) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker recovered panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	job()
}

func (w *WorkerPool) Release() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}
