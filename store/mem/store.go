package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ZutrixPog/capsync/store"
)

var _ store.Store = (*MemStore)(nil)

// MemStore keeps accounts and work items in maps. Transactions are
// serialised by a single lock and operate on a copy that replaces the
// committed state only when the transaction function succeeds.
type MemStore struct {
	accounts map[string]store.Account
	tasks    map[store.TaskKind]map[store.TaskKey]store.WorkItem
	lock     sync.RWMutex
}

func NewStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]store.Account),
		tasks:    make(map[store.TaskKind]map[store.TaskKey]store.WorkItem),
	}
}

func (s *MemStore) Transact(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	tx := &memTx{
		accounts: make(map[string]store.Account, len(s.accounts)),
		tasks:    make(map[store.TaskKind]map[store.TaskKey]store.WorkItem, len(s.tasks)),
	}
	for id, a := range s.accounts {
		tx.accounts[id] = a
	}
	for kind, items := range s.tasks {
		copied := make(map[store.TaskKey]store.WorkItem, len(items))
		for k, v := range items {
			copied[k] = v
		}
		tx.tasks[kind] = copied
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.accounts = tx.accounts
	s.tasks = tx.tasks
	return nil
}

func (s *MemStore) ListDue(ctx context.Context, kind store.TaskKind, nowMs int64, cursor string, limit int) (store.Page, error) {
	after, hasCursor, err := store.DecodeCursor(cursor)
	if err != nil {
		return store.Page{}, err
	}

	s.lock.RLock()
	items := make([]store.WorkItem, 0)
	for key, item := range s.tasks[kind] {
		if item.ExecutionTimeMs > nowMs {
			continue
		}
		if hasCursor && !after.Less(key) {
			continue
		}
		items = append(items, item)
	}
	s.lock.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.Less(items[j].Key)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	next, err := store.NextCursor(items, limit)
	if err != nil {
		return store.Page{}, err
	}
	return store.Page{Items: items, NextCursor: next}, nil
}

func (s *MemStore) Account(ctx context.Context, id string) (*store.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &a, nil
}

func (s *MemStore) Task(ctx context.Context, kind store.TaskKind, key store.TaskKey) (*store.WorkItem, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	item, ok := s.tasks[kind][key]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return &item, nil
}

type memTx struct {
	accounts map[string]store.Account
	tasks    map[store.TaskKind]map[store.TaskKey]store.WorkItem
}

func (tx *memTx) Account(id string) (*store.Account, error) {
	a, ok := tx.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &a, nil
}

func (tx *memTx) ReadAccount(id string) (*store.Account, error) {
	return tx.Account(id)
}

func (tx *memTx) CreateAccount(account *store.Account) error {
	if _, ok := tx.accounts[account.ID]; ok {
		return store.ErrAccountExists
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	tx.accounts[account.ID] = *account
	return nil
}

func (tx *memTx) SaveAccount(account *store.Account) error {
	if _, ok := tx.accounts[account.ID]; !ok {
		return store.ErrAccountNotFound
	}
	account.UpdatedAt = time.Now().UTC()
	tx.accounts[account.ID] = *account
	return nil
}

func (tx *memTx) Task(kind store.TaskKind, key store.TaskKey) (*store.WorkItem, error) {
	item, ok := tx.tasks[kind][key]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return &item, nil
}

func (tx *memTx) InsertTask(item *store.WorkItem) error {
	items, ok := tx.tasks[item.Kind]
	if !ok {
		items = make(map[store.TaskKey]store.WorkItem)
		tx.tasks[item.Kind] = items
	}
	if _, exists := items[item.Key]; exists {
		return store.ErrTaskExists
	}
	items[item.Key] = *item
	return nil
}

func (tx *memTx) SaveTask(item *store.WorkItem) error {
	if _, ok := tx.tasks[item.Kind][item.Key]; !ok {
		return store.ErrTaskNotFound
	}
	tx.tasks[item.Kind][item.Key] = *item
	return nil
}

func (tx *memTx) DeleteTask(kind store.TaskKind, key store.TaskKey) (bool, error) {
	if _, ok := tx.tasks[kind][key]; !ok {
		return false, nil
	}
	delete(tx.tasks[kind], key)
	return true, nil
}
