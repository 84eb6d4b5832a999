package store

import (
	"fmt"
	"strings"

	serial "github.com/ZutrixPog/capsync/serialization"
)

type TaskKind string

const (
	CapabilitiesUpdate      TaskKind = "capabilities-update"
	BillingAccountCreating  TaskKind = "billing-account-creating"
	BillingProfileCreating  TaskKind = "billing-profile-creating"
	PaymentProfileCreating  TaskKind = "payment-profile-creating"
	PayoutProfileCreating   TaskKind = "payout-profile-creating"
	EarningsProfileCreating TaskKind = "earnings-profile-creating"
)

func TaskKinds() []TaskKind {
	return []TaskKind{
		CapabilitiesUpdate,
		BillingAccountCreating,
		BillingProfileCreating,
		PaymentProfileCreating,
		PayoutProfileCreating,
		EarningsProfileCreating,
	}
}

func ParseTaskKind(s string) (TaskKind, error) {
	for _, k := range TaskKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// Versioned reports whether keys of this kind carry a version next to the
// account id. Single-key kinds always use version 0.
func (k TaskKind) Versioned() bool {
	return k == CapabilitiesUpdate
}

// Table is the name of the table holding work items of this kind.
func (k TaskKind) Table() string {
	return strings.ReplaceAll(string(k), "-", "_") + "_tasks"
}

// TaskKey is the natural key of a work item.
type TaskKey struct {
	AccountID string `json:"accountId"`
	Version   int64  `json:"version"`
}

func AccountKey(accountID string) TaskKey {
	return TaskKey{AccountID: accountID}
}

func (k TaskKey) Less(o TaskKey) bool {
	if k.AccountID != o.AccountID {
		return k.AccountID < o.AccountID
	}
	return k.Version < o.Version
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s@%d", k.AccountID, k.Version)
}

type WorkItem struct {
	Kind            TaskKind `json:"kind"`
	Key             TaskKey  `json:"key"`
	RetryCount      int      `json:"retryCount"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	CreatedTimeMs   int64    `json:"createdTimeMs"`
}

func NewWorkItem(kind TaskKind, key TaskKey, nowMs int64) *WorkItem {
	return &WorkItem{
		Kind:            kind,
		Key:             key,
		RetryCount:      0,
		ExecutionTimeMs: nowMs,
		CreatedTimeMs:   nowMs,
	}
}

// EncodeCursor turns the last key of a page into an opaque cursor.
func EncodeCursor(key TaskKey) (string, error) {
	return serial.Encode(key)
}

// DecodeCursor reverses EncodeCursor. An empty cursor decodes to ok=false.
func DecodeCursor(cursor string) (key TaskKey, ok bool, err error) {
	if cursor == "" {
		return TaskKey{}, false, nil
	}
	if err := serial.Decode(cursor, &key); err != nil {
		return TaskKey{}, false, ErrInvalidCursor
	}
	return key, true, nil
}

// NextCursor returns the cursor following items, or "" when the page was
// not full.
func NextCursor(items []WorkItem, limit int) (string, error) {
	if limit <= 0 || len(items) < limit {
		return "", nil
	}
	return EncodeCursor(items[len(items)-1].Key)
}
