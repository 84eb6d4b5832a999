package capsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZutrixPog/capsync/downstream"
	"github.com/ZutrixPog/capsync/store"
)

// ProvisionRequest is the input of the profile creating kinds.
type ProvisionRequest struct {
	Resource    downstream.Resource
	AccountID   string
	AccountType store.AccountType
}

var provisioningKinds = map[store.TaskKind]downstream.Resource{
	store.BillingAccountCreating:  downstream.BillingAccount,
	store.BillingProfileCreating:  downstream.BillingProfile,
	store.PaymentProfileCreating:  downstream.PaymentProfile,
	store.PayoutProfileCreating:   downstream.PayoutProfile,
	store.EarningsProfileCreating: downstream.EarningsProfile,
}

// CreationTasks lists the provisioning kinds enqueued when an account of the
// given type is created. Every account is billable; consumers pay, publishers
// earn.
func CreationTasks(t store.AccountType) []store.TaskKind {
	switch t {
	case store.Consumer:
		return []store.TaskKind{store.BillingAccountCreating, store.BillingProfileCreating, store.PaymentProfileCreating}
	case store.Publisher:
		return []store.TaskKind{store.BillingAccountCreating, store.BillingProfileCreating, store.PayoutProfileCreating, store.EarningsProfileCreating}
	}
	return nil
}

// readAccount reads the account of a claimed item without locking it. Locks
// are always taken account row first, then task row.
func readAccount(tx store.Tx, accountID string) (*store.Account, error) {
	account, err := tx.ReadAccount(accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, Permanent(err)
	}
	return account, err
}

// NewCapabilitiesRunner pushes the capabilities of the version named by the
// work item key. An item whose version no longer matches the account has been
// superseded and is abandoned.
func NewCapabilitiesRunner(cfg RunnerConfig, session downstream.SessionService) *Runner[downstream.CapabilitiesUpdate] {
	prepare := func(tx store.Tx, item *store.WorkItem) (downstream.CapabilitiesUpdate, error) {
		account, err := readAccount(tx, item.Key.AccountID)
		if err != nil {
			return downstream.CapabilitiesUpdate{}, err
		}
		if account.CapabilitiesVersion != item.Key.Version {
			return downstream.CapabilitiesUpdate{}, Permanent(fmt.Errorf("%w: item %d, account %d",
				ErrVersionMismatch, item.Key.Version, account.CapabilitiesVersion))
		}
		caps, err := AccountCapabilities(account)
		if err != nil {
			return downstream.CapabilitiesUpdate{}, Permanent(err)
		}
		return downstream.CapabilitiesUpdate{
			AccountID:    account.ID,
			Version:      account.CapabilitiesVersion,
			Capabilities: caps.Strings(),
		}, nil
	}

	return NewRunner[downstream.CapabilitiesUpdate](store.CapabilitiesUpdate, cfg, prepare, session.PushCapabilities)
}

func NewProvisionRunner(kind store.TaskKind, cfg RunnerConfig, commerce downstream.Commerce) (*Runner[ProvisionRequest], error) {
	resource, ok := provisioningKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a provisioning kind", store.ErrUnknownKind, kind)
	}

	prepare := func(tx store.Tx, item *store.WorkItem) (ProvisionRequest, error) {
		account, err := readAccount(tx, item.Key.AccountID)
		if err != nil {
			return ProvisionRequest{}, err
		}
		return ProvisionRequest{Resource: resource, AccountID: account.ID, AccountType: account.Type}, nil
	}
	process := func(ctx context.Context, req ProvisionRequest) error {
		return commerce.Provision(ctx, req.Resource, req.AccountID, string(req.AccountType))
	}

	return NewRunner[ProvisionRequest](kind, cfg, prepare, process), nil
}

// NewJobs binds every task kind to its runner.
func NewJobs(cfg RunnerConfig, session downstream.SessionService, commerce downstream.Commerce) ([]Job, error) {
	jobs := []Job{NewCapabilitiesRunner(cfg, session)}
	for _, kind := range store.TaskKinds() {
		if kind == store.CapabilitiesUpdate {
			continue
		}
		runner, err := NewProvisionRunner(kind, cfg, commerce)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, runner)
	}
	return jobs, nil
}
