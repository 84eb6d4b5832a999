package capsync

import (
	"context"
	"fmt"

	"github.com/ZutrixPog/capsync/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registrar creates accounts together with the provisioning work their type
// requires.
type Registrar struct {
	store  store.Store
	clock  Clock
	logger *zap.Logger
}

func NewRegistrar(st store.Store, clock Clock, logger *zap.Logger) *Registrar {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{store: st, clock: clock, logger: logger}
}

// CreateAccount stores a new account and enqueues its creation tasks in the
// same transaction. An empty id gets a generated one.
func (r *Registrar) CreateAccount(ctx context.Context, id string, accountType store.AccountType) (*store.Account, error) {
	if !accountType.Valid() {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrInvalidAccountType, accountType))
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := nowMs(r.clock)
	account := store.NewAccount(id, accountType)
	kinds := CreationTasks(accountType)

	err := r.store.Transact(ctx, func(tx store.Tx) error {
		if err := tx.CreateAccount(account); err != nil {
			return err
		}
		for _, kind := range kinds {
			if err := tx.InsertTask(store.NewWorkItem(kind, store.AccountKey(id), now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", id, err)
	}

	r.logger.Info("account created",
		zap.String("account_id", id),
		zap.String("account_type", string(accountType)),
		zap.Int("tasks", len(kinds)),
	)
	return account, nil
}
