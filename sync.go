package capsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZutrixPog/capsync/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/ZutrixPog/capsync"

// SyncHandler applies state notifications from one subsystem to accounts.
type SyncHandler struct {
	subsystem store.Subsystem
	store     store.Store
	clock     Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewSyncHandler(subsystem store.Subsystem, st store.Store, clock Clock, logger *zap.Logger) (*SyncHandler, error) {
	if _, err := store.ParseSubsystem(string(subsystem)); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncHandler{
		subsystem: subsystem,
		store:     st,
		clock:     clock,
		logger:    logger.With(zap.String("subsystem", string(subsystem))),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// NewSyncHandlers builds one handler per subsystem.
func NewSyncHandlers(st store.Store, clock Clock, logger *zap.Logger) (map[store.Subsystem]*SyncHandler, error) {
	handlers := make(map[store.Subsystem]*SyncHandler)
	for _, s := range store.Subsystems() {
		h, err := NewSyncHandler(s, st, clock, logger)
		if err != nil {
			return nil, err
		}
		handlers[s] = h
	}
	return handlers, nil
}

func (h *SyncHandler) Subsystem() store.Subsystem {
	return h.subsystem
}

// Sync records state at version for the account. Notifications that are not
// newer than the stored version are accepted without any change; applied
// reports whether this one changed the account.
//
// An applied notification bumps the capabilities version and, in the same
// transaction, replaces the account's pending capabilities-update item with
// one keyed at the new version.
func (h *SyncHandler) Sync(ctx context.Context, accountID string, state string, version int64) (applied bool, err error) {
	ctx, span := h.tracer.Start(ctx, "capsync.sync", trace.WithAttributes(
		attribute.String("subsystem", string(h.subsystem)),
		attribute.String("account.id", accountID),
		attribute.Int64("state.version", version),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !h.subsystem.ValidState(state) {
		return false, Permanent(fmt.Errorf("%w: %s %q", ErrInvalidState, h.subsystem, state))
	}

	now := nowMs(h.clock)
	var capabilitiesVersion int64
	err = h.store.Transact(ctx, func(tx store.Tx) error {
		applied = false

		account, err := tx.Account(accountID)
		if err != nil {
			return err
		}

		current, err := account.State(h.subsystem)
		if err != nil {
			return err
		}
		if !current.ApplyIfNewer(state, version) {
			return nil
		}

		previous := account.CapabilitiesVersion
		account.CapabilitiesVersion++
		if err := tx.SaveAccount(account); err != nil {
			return err
		}

		next := store.TaskKey{AccountID: accountID, Version: account.CapabilitiesVersion}
		if err := tx.InsertTask(store.NewWorkItem(store.CapabilitiesUpdate, next, now)); err != nil {
			return err
		}
		if _, err := tx.DeleteTask(store.CapabilitiesUpdate, store.TaskKey{AccountID: accountID, Version: previous}); err != nil {
			return err
		}

		applied = true
		capabilitiesVersion = account.CapabilitiesVersion
		return nil
	})
	if err != nil {
		applied = false
		if errors.Is(err, store.ErrAccountNotFound) {
			return false, Permanent(fmt.Errorf("%s sync for %s: %w", h.subsystem, accountID, err))
		}
		return false, fmt.Errorf("%s sync for %s: %w", h.subsystem, accountID, err)
	}

	if applied {
		h.logger.Info("state applied",
			zap.String("account_id", accountID),
			zap.String("state", state),
			zap.Int64("version", version),
			zap.Int64("capabilities_version", capabilitiesVersion),
		)
	} else {
		h.logger.Debug("stale state ignored",
			zap.String("account_id", accountID),
			zap.Int64("version", version),
		)
	}
	return applied, nil
}
