// Package downstream declares the external systems that work items
// propagate changes to.
package downstream

import (
	"context"
	"errors"
)

var (
	ErrUnavailable     = errors.New("downstream service unavailable")
	ErrRejected        = errors.New("downstream service rejected the request")
	ErrUnknownResource = errors.New("unknown commerce resource")
)

// CapabilitiesUpdate is the payload pushed to the session service. Receivers
// must treat (AccountID, Version) as an idempotency key: the same update can
// be delivered more than once and older versions can arrive late.
type CapabilitiesUpdate struct {
	AccountID    string   `json:"accountId"`
	Version      int64    `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// SessionService is the session/authorization service that caches the
// capabilities of every account.
type SessionService interface {
	PushCapabilities(ctx context.Context, update CapabilitiesUpdate) error
}

// Resource is something the commerce subsystem provisions for an account.
type Resource string

const (
	BillingAccount  Resource = "billing-account"
	BillingProfile  Resource = "billing-profile"
	PaymentProfile  Resource = "payment-profile"
	PayoutProfile   Resource = "payout-profile"
	EarningsProfile Resource = "earnings-profile"
)

// Commerce provisions billing and payout resources. Provision must be
// idempotent per (resource, accountID).
type Commerce interface {
	Provision(ctx context.Context, resource Resource, accountID string, accountType string) error
}
