package store

import (
	"errors"
	"time"
)

var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidSubsystem   = errors.New("invalid subsystem")
	ErrInvalidState       = errors.New("invalid subsystem state")
)

type AccountType string

const (
	Consumer  AccountType = "consumer"
	Publisher AccountType = "publisher"
)

func (t AccountType) Valid() bool {
	return t == Consumer || t == Publisher
}

func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(s)
	if !t.Valid() {
		return "", ErrInvalidAccountType
	}
	return t, nil
}

// Subsystem names an external system that owns one piece of account state.
type Subsystem string

const (
	BillingAccount Subsystem = "billing-account"
	PaymentProfile Subsystem = "payment-profile"
	BillingProfile Subsystem = "billing-profile"
)

// StateNone is the initial value of every subsystem state.
const StateNone = "none"

const (
	BillingAccountActive    = "active"
	BillingAccountSuspended = "suspended"
	BillingAccountClosed    = "closed"

	ProfileValid   = "valid"
	ProfileInvalid = "invalid"
)

var subsystemStates = map[Subsystem][]string{
	BillingAccount: {StateNone, BillingAccountActive, BillingAccountSuspended, BillingAccountClosed},
	PaymentProfile: {StateNone, ProfileValid, ProfileInvalid},
	BillingProfile: {StateNone, ProfileValid, ProfileInvalid},
}

func Subsystems() []Subsystem {
	return []Subsystem{BillingAccount, PaymentProfile, BillingProfile}
}

func ParseSubsystem(s string) (Subsystem, error) {
	sub := Subsystem(s)
	if _, ok := subsystemStates[sub]; !ok {
		return "", ErrInvalidSubsystem
	}
	return sub, nil
}

// ValidState reports whether value is a state the subsystem can report.
func (s Subsystem) ValidState(value string) bool {
	for _, v := range subsystemStates[s] {
		if v == value {
			return true
		}
	}
	return false
}

// VersionedState is one subsystem's state together with the version the
// subsystem attached to it.
type VersionedState struct {
	Value   string `gorm:"not null;default:none" json:"value"`
	Version int64  `gorm:"not null;default:0" json:"version"`
}

// ApplyIfNewer replaces the state when version is strictly greater than the
// stored one and reports whether it did.
func (s *VersionedState) ApplyIfNewer(value string, version int64) bool {
	if version <= s.Version {
		return false
	}
	s.Value = value
	s.Version = version
	return true
}

type Account struct {
	ID                  string         `gorm:"primaryKey" json:"id"`
	Type                AccountType    `gorm:"not null" json:"type"`
	BillingAccount      VersionedState `gorm:"embedded;embeddedPrefix:billing_account_" json:"billingAccount"`
	PaymentProfile      VersionedState `gorm:"embedded;embeddedPrefix:payment_profile_" json:"paymentProfile"`
	BillingProfile      VersionedState `gorm:"embedded;embeddedPrefix:billing_profile_" json:"billingProfile"`
	CapabilitiesVersion int64          `gorm:"not null;default:0" json:"capabilitiesVersion"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

func NewAccount(id string, t AccountType) *Account {
	initial := VersionedState{Value: StateNone}
	return &Account{
		ID:             id,
		Type:           t,
		BillingAccount: initial,
		PaymentProfile: initial,
		BillingProfile: initial,
	}
}

// State returns a pointer to the subsystem's state so it can be updated in
// place.
func (a *Account) State(s Subsystem) (*VersionedState, error) {
	switch s {
	case BillingAccount:
		return &a.BillingAccount, nil
	case PaymentProfile:
		return &a.PaymentProfile, nil
	case BillingProfile:
		return &a.BillingProfile, nil
	}
	return nil, ErrInvalidSubsystem
}

// States is the snapshot of every subsystem state keyed by subsystem.
func (a *Account) States() map[Subsystem]string {
	return map[Subsystem]string{
		BillingAccount: a.BillingAccount.Value,
		PaymentProfile: a.PaymentProfile.Value,
		BillingProfile: a.BillingProfile.Value,
	}
}
