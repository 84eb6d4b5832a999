package capsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZutrixPog/capsync/store"
	"go.uber.org/zap"
)

const (
	DefaultDispatchInterval = 10 * time.Second
	DefaultPageSize         = 100
	DefaultWorkers          = 5
)

type DispatcherConfig struct {
	Interval time.Duration
	PageSize int
	Workers  int
	// MaxAge is the age after which a still pending item is reported as
	// abandoned. Such items keep being dispatched.
	MaxAge time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval: DefaultDispatchInterval,
		PageSize: DefaultPageSize,
		Workers:  DefaultWorkers,
		MaxAge:   DefaultMaxAge,
	}
}

func (cfg *DispatcherConfig) normalize() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDispatchInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
}

// DispatchResult counts what one dispatch cycle did.
type DispatchResult struct {
	Listed    int
	Completed int
	Retrying  int
	Skipped   int
	Abandoned int
	Errors    int
	// Overdue counts listed items older than MaxAge.
	Overdue int
}

func (r *DispatchResult) add(outcome Outcome, err error) {
	switch outcome {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeRetrying:
		r.Retrying++
	case OutcomeAbandoned:
		r.Abandoned++
	default:
		r.Skipped++
	}
	if err != nil {
		r.Errors++
	}
}

// Dispatcher periodically lists due work items of every registered kind and
// hands each one to its job on a worker pool.
type Dispatcher struct {
	store  store.Store
	clock  Clock
	cfg    DispatcherConfig
	logger *zap.Logger
	pool   *WorkerPool

	jobs  map[store.TaskKind]Job
	kinds []store.TaskKind

	mu      sync.Mutex
	running bool
}

func NewDispatcher(st store.Store, clock Clock, logger *zap.Logger, cfg DispatcherConfig, jobs ...Job) (*Dispatcher, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()

	d := &Dispatcher{
		store:  st,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		pool:   NewPool(cfg.Workers, logger),
		jobs:   make(map[store.TaskKind]Job),
	}
	for _, job := range jobs {
		if err := d.Register(job); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dispatcher) Register(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[job.Kind()]; exists {
		return fmt.Errorf("%w: %s", ErrKindRegistered, job.Kind())
	}
	d.jobs[job.Kind()] = job
	d.kinds = append(d.kinds, job.Kind())
	return nil
}

// Run dispatches once immediately and then on every interval until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherRunning
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Duration("interval", d.cfg.Interval))
	for {
		d.tick(ctx)

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	res, err := d.DispatchOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("dispatch cycle failed", zap.Error(err))
	}
	if res.Listed > 0 {
		d.logger.Info("dispatch cycle finished",
			zap.Int("listed", res.Listed),
			zap.Int("completed", res.Completed),
			zap.Int("retrying", res.Retrying),
			zap.Int("skipped", res.Skipped),
			zap.Int("abandoned", res.Abandoned),
			zap.Int("overdue", res.Overdue),
			zap.Int("errors", res.Errors),
		)
	}
}

// DispatchOnce runs every item that is due now, kind by kind, and waits for
// all of them to finish.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	d.mu.Lock()
	kinds := append([]store.TaskKind(nil), d.kinds...)
	d.mu.Unlock()

	var result DispatchResult
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := d.dispatchKind(ctx, kind, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Release stops the worker pool. The dispatcher cannot be used afterwards.
func (d *Dispatcher) Release() {
	d.pool.Release()
}

func (d *Dispatcher) dispatchKind(ctx context.Context, kind store.TaskKind, result *DispatchResult) error {
	d.mu.Lock()
	job := d.jobs[kind]
	d.mu.Unlock()

	now := nowMs(d.clock)
	logger := d.logger.With(zap.String("task_kind", string(kind)))

	var (
		wg     sync.WaitGroup
		resMu  sync.Mutex
		cursor string
	)
	defer wg.Wait()

	for {
		page, err := d.store.ListDue(ctx, kind, now, cursor, d.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("list due %s: %w", kind, err)
		}

		for _, item := range page.Items {
			resMu.Lock()
			result.Listed++
			if Abandoned(item.CreatedTimeMs, now, d.cfg.MaxAge) {
				result.Overdue++
				logger.Warn("work item past max age",
					zap.String("account_id", item.Key.AccountID),
					zap.Int64("version", item.Key.Version),
					zap.Int("retry_count", item.RetryCount),
				)
			}
			resMu.Unlock()

			key := item.Key
			wg.Add(1)
			err := d.pool.Submit(func() {
				defer wg.Done()
				outcome, err := job.Run(ctx, key)
				if err != nil {
					logger.Error("work item run failed",
						zap.String("account_id", key.AccountID),
						zap.Int64("version", key.Version),
						zap.Stringer("outcome", outcome),
						zap.Error(err),
					)
				}
				resMu.Lock()
				result.add(outcome, err)
				resMu.Unlock()
			})
			if err != nil {
				wg.Done()
				return err
			}
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
