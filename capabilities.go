package capsync

import (
	"sort"

	"github.com/ZutrixPog/capsync/store"
)

type Capability string

const (
	CapabilityBrowse    Capability = "browse"
	CapabilityPurchase  Capability = "purchase"
	CapabilitySubscribe Capability = "subscribe"
	CapabilityPublish   Capability = "publish"
	CapabilityMonetize  Capability = "monetize"
)

// Capabilities is a sorted set of capabilities.
type Capabilities []Capability

func (c Capabilities) Has(capability Capability) bool {
	for _, v := range c {
		if v == capability {
			return true
		}
	}
	return false
}

func (c Capabilities) Strings() []string {
	res := make([]string, len(c))
	for i, v := range c {
		res[i] = string(v)
	}
	return res
}

// ComputeCapabilities derives what an account may do from its type and the
// current state of every subsystem. States missing from the map count as
// none.
func ComputeCapabilities(accountType store.AccountType, states map[store.Subsystem]string) (Capabilities, error) {
	billingActive := states[store.BillingAccount] == store.BillingAccountActive
	paymentValid := states[store.PaymentProfile] == store.ProfileValid
	billingProfileValid := states[store.BillingProfile] == store.ProfileValid

	caps := Capabilities{CapabilityBrowse}
	purchase := billingActive && paymentValid
	if purchase {
		caps = append(caps, CapabilityPurchase)
	}

	switch accountType {
	case store.Consumer:
		if purchase && billingProfileValid {
			caps = append(caps, CapabilitySubscribe)
		}
	case store.Publisher:
		if billingActive {
			caps = append(caps, CapabilityPublish)
			if billingProfileValid {
				caps = append(caps, CapabilityMonetize)
			}
		}
	default:
		return nil, ErrInvalidAccountType
	}

	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps, nil
}

// AccountCapabilities is ComputeCapabilities applied to a stored account.
func AccountCapabilities(account *store.Account) (Capabilities, error) {
	return ComputeCapabilities(account.Type, account.States())
}
