package capsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZutrixPog/capsync/history"
	"github.com/ZutrixPog/capsync/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Outcome int

const (
	// OutcomeSkipped means the item was gone by the time it was claimed.
	OutcomeSkipped Outcome = iota
	// OutcomeRetrying means the action failed and the item waits for its
	// rescheduled execution time.
	OutcomeRetrying
	OutcomeCompleted
	// OutcomeAbandoned means the item could never succeed and was removed.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetrying:
		return "retrying"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Job runs one work item of a single kind to its next resting state.
type Job interface {
	Kind() store.TaskKind
	Run(ctx context.Context, key store.TaskKey) (Outcome, error)
}

// PrepareFunc loads the action input inside the claim transaction. Returning
// a Permanent error abandons the item.
type PrepareFunc[I any] func(tx store.Tx, item *store.WorkItem) (I, error)

// ProcessFunc performs the side effect. It runs outside any transaction and
// may be invoked more than once for the same item.
type ProcessFunc[I any] func(ctx context.Context, input I) error

type RunnerConfig struct {
	Store   store.Store
	Clock   Clock
	Backoff Backoff
	History history.TaskHistoryRepo
	Logger  *zap.Logger
}

func (cfg RunnerConfig) withDefaults() RunnerConfig {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = FixedBackoff(DefaultRetryDelay)
	}
	if cfg.History == nil {
		cfg.History = &history.DummyTaskHistoryRepo{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Runner drives work items of one kind through claim, process and delete.
//
// The claim transaction advances the retry count and pushes the execution
// time out by one backoff delay before anything else happens, so a failed or
// crashed process step needs no bookkeeping: the item simply becomes due
// again later. The row is deleted only after process succeeds.
type Runner[I any] struct {
	kind    store.TaskKind
	store   store.Store
	clock   Clock
	backoff Backoff
	history history.TaskHistoryRepo
	logger  *zap.Logger
	tracer  trace.Tracer

	prepare PrepareFunc[I]
	process ProcessFunc[I]
}

var _ Job = (*Runner[struct{}])(nil)

func NewRunner[I any](kind store.TaskKind, cfg RunnerConfig, prepare PrepareFunc[I], process ProcessFunc[I]) *Runner[I] {
	cfg = cfg.withDefaults()
	return &Runner[I]{
		kind:    kind,
		store:   cfg.Store,
		clock:   cfg.Clock,
		backoff: cfg.Backoff,
		history: cfg.History,
		logger:  cfg.Logger.With(zap.String("task_kind", string(kind))),
		tracer:  otel.Tracer(tracerName),
		prepare: prepare,
		process: process,
	}
}

func (r *Runner[I]) Kind() store.TaskKind {
	return r.kind
}

// Claim advances the item's retry count and execution time and prepares the
// action input, all in one transaction. A nil item with a nil error means
// there was nothing to claim. A permanent preparation error deletes the row
// and is returned together with the abandoned item.
func (r *Runner[I]) Claim(ctx context.Context, key store.TaskKey) (*store.WorkItem, I, error) {
	var (
		claimed   *store.WorkItem
		input     I
		abandoned error
	)
	now := nowMs(r.clock)

	err := r.store.Transact(ctx, func(tx store.Tx) error {
		claimed, abandoned = nil, nil

		item, err := tx.Task(r.kind, key)
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		item.ExecutionTimeMs = nextExecution(item.ExecutionTimeMs, now, r.backoff.Delay(item.RetryCount))
		item.RetryCount++
		if err := tx.SaveTask(item); err != nil {
			return err
		}

		in, err := r.prepare(tx, item)
		if err != nil {
			if !IsPermanent(err) {
				return err
			}
			if _, err := tx.DeleteTask(r.kind, key); err != nil {
				return err
			}
			abandoned = err
		}

		claimed = item
		input = in
		return nil
	})
	if err != nil {
		var zero I
		return nil, zero, fmt.Errorf("claim %s %s: %w", r.kind, key, err)
	}
	return claimed, input, abandoned
}

// Complete deletes the item after its action succeeded. Deleting an item
// that is already gone is not an error.
func (r *Runner[I]) Complete(ctx context.Context, key store.TaskKey) error {
	err := r.store.Transact(ctx, func(tx store.Tx) error {
		_, err := tx.DeleteTask(r.kind, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete %s %s: %w", r.kind, key, err)
	}
	return nil
}

// Run claims, processes and completes one item. Action failures are logged
// and reported as OutcomeRetrying with a nil error; only store failures and
// abandoned items return an error.
func (r *Runner[I]) Run(ctx context.Context, key store.TaskKey) (outcome Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "capsync.task.run", trace.WithAttributes(
		attribute.String("task.kind", string(r.kind)),
		attribute.String("task.key", key.String()),
	))
	defer func() {
		span.SetAttributes(attribute.String("task.outcome", outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := r.logger.With(zap.String("account_id", key.AccountID), zap.Int64("version", key.Version))

	item, input, err := r.Claim(ctx, key)
	if err != nil {
		if item != nil && IsPermanent(err) {
			logger.Error("work item abandoned", zap.Int("retry_count", item.RetryCount), zap.Error(err))
			r.record(ctx, item, history.StatusAbandoned, err)
			return OutcomeAbandoned, err
		}
		return OutcomeSkipped, err
	}
	if item == nil {
		logger.Debug("work item already resolved")
		return OutcomeSkipped, nil
	}

	if err := r.process(ctx, input); err != nil {
		logger.Warn("work item failed, rescheduled",
			zap.Int("retry_count", item.RetryCount),
			zap.Int64("next_execution_ms", item.ExecutionTimeMs),
			zap.Error(err),
		)
		r.record(ctx, item, history.StatusFailed, err)
		return OutcomeRetrying, nil
	}

	if err := r.Complete(ctx, key); err != nil {
		return OutcomeRetrying, err
	}

	logger.Info("work item completed", zap.Int("attempt", item.RetryCount))
	r.record(ctx, item, history.StatusCompleted, nil)
	return OutcomeCompleted, nil
}

// nextExecution keeps a retrying item on its own schedule. An item claimed
// more than one delay late is rescheduled relative to now instead.
func nextExecution(scheduledMs, nowMs int64, delay time.Duration) int64 {
	next := scheduledMs + delay.Milliseconds()
	if next <= nowMs {
		next = nowMs + delay.Milliseconds()
	}
	return next
}

func (r *Runner[I]) record(ctx context.Context, item *store.WorkItem, status string, cause error) {
	report := history.TaskReport{
		Kind:      string(r.kind),
		AccountID: item.Key.AccountID,
		Version:   item.Key.Version,
		Status:    status,
		Attempt:   item.RetryCount,
		Submitted: time.UnixMilli(item.CreatedTimeMs).UTC(),
	}
	if cause != nil {
		report.Error = cause.Error()
	}
	if err := r.history.Append(ctx, report); err != nil {
		r.logger.Warn("failed to record task history", zap.Error(err))
	}
}
