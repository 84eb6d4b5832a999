package store

import (
	"context"
	"errors"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskExists      = errors.New("task already exists")
	ErrUnknownKind     = errors.New("unknown task kind")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrRetrieveEntity  = errors.New("failed to retrieve entity")
	ErrCreateEntity    = errors.New("failed to create entity")
	ErrUpdateEntity    = errors.New("failed to update entity")
	ErrRemoveEntity    = errors.New("failed to remove entity")
)

// Store is the single transactional source of truth for account state and
// the pending work queue.
type Store interface {
	// Transact runs fn inside one transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	Transact(ctx context.Context, fn func(tx Tx) error) error

	// ListDue lists work items of kind with ExecutionTimeMs <= nowMs ordered
	// by key. Page.NextCursor is set when the page is full.
	ListDue(ctx context.Context, kind TaskKind, nowMs int64, cursor string, limit int) (Page, error)

	// Account reads an account outside of any transaction.
	Account(ctx context.Context, id string) (*Account, error)

	// Task reads a work item outside of any transaction.
	Task(ctx context.Context, kind TaskKind, key TaskKey) (*WorkItem, error)
}

// Tx is the set of operations available inside Store.Transact. Reads lock
// the row they return until the transaction ends, except ReadAccount.
type Tx interface {
	Account(id string) (*Account, error)
	// ReadAccount reads the last committed account without locking it.
	ReadAccount(id string) (*Account, error)
	CreateAccount(account *Account) error
	SaveAccount(account *Account) error

	Task(kind TaskKind, key TaskKey) (*WorkItem, error)
	InsertTask(item *WorkItem) error
	SaveTask(item *WorkItem) error
	// DeleteTask deletes the item if present and reports whether it was.
	DeleteTask(kind TaskKind, key TaskKey) (bool, error)
}

type Page struct {
	Items      []WorkItem
	NextCursor string
}
