package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZutrixPog/capsync/store"
	"github.com/ZutrixPog/capsync/store/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newAccountID() string {
	return "acc-" + uuid.NewString()
}

func createAccount(t *testing.T, s store.Store, id string) {
	t.Helper()
	err := s.Transact(context.Background(), func(tx store.Tx) error {
		return tx.CreateAccount(store.NewAccount(id, store.Consumer))
	})
	require.Nil(t, err)
}

func TestAccounts(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	id := newAccountID()

	cases := []struct {
		desc string
		fn   func(tx store.Tx) error
		err  error
	}{
		{
			desc: "create an account",
			fn: func(tx store.Tx) error {
				return tx.CreateAccount(store.NewAccount(id, store.Publisher))
			},
			err: nil,
		},
		{
			desc: "create a duplicate account",
			fn: func(tx store.Tx) error {
				return tx.CreateAccount(store.NewAccount(id, store.Consumer))
			},
			err: store.ErrAccountExists,
		},
		{
			desc: "apply a state and save",
			fn: func(tx store.Tx) error {
				account, err := tx.Account(id)
				if err != nil {
					return err
				}
				account.BillingProfile.ApplyIfNewer(store.ProfileValid, 9)
				account.CapabilitiesVersion++
				return tx.SaveAccount(account)
			},
			err: nil,
		},
		{
			desc: "save a missing account",
			fn: func(tx store.Tx) error {
				return tx.SaveAccount(store.NewAccount(newAccountID(), store.Consumer))
			},
			err: store.ErrAccountNotFound,
		},
		{
			desc: "read a missing account",
			fn: func(tx store.Tx) error {
				_, err := tx.Account(newAccountID())
				return err
			},
			err: store.ErrAccountNotFound,
		},
	}

	for _, c := range cases {
		err := s.Transact(ctx, c.fn)
		require.Equal(t, c.err, err, c.desc)
	}

	account, err := s.Account(ctx, id)
	require.Nil(t, err)
	require.Equal(t, store.Publisher, account.Type)
	require.Equal(t, store.VersionedState{Value: store.ProfileValid, Version: 9}, account.BillingProfile)
	require.Equal(t, store.VersionedState{Value: store.StateNone, Version: 0}, account.BillingAccount)
	require.Equal(t, int64(1), account.CapabilitiesVersion)
	require.False(t, account.CreatedAt.IsZero())
}

func TestTransactRollsBack(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	id := newAccountID()

	err := s.Transact(ctx, func(tx store.Tx) error {
		if err := tx.CreateAccount(store.NewAccount(id, store.Consumer)); err != nil {
			return err
		}
		if err := tx.InsertTask(store.NewWorkItem(store.BillingAccountCreating, store.AccountKey(id), 1000)); err != nil {
			return err
		}
		return store.ErrUpdateEntity
	})
	require.Equal(t, store.ErrUpdateEntity, err)

	_, err = s.Account(ctx, id)
	require.Equal(t, store.ErrAccountNotFound, err)
	_, err = s.Task(ctx, store.BillingAccountCreating, store.AccountKey(id))
	require.Equal(t, store.ErrTaskNotFound, err)
}

func TestTasks(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	key := store.TaskKey{AccountID: newAccountID(), Version: 4}
	item := store.NewWorkItem(store.CapabilitiesUpdate, key, 1000)

	cases := []struct {
		desc string
		fn   func(tx store.Tx) error
		err  error
	}{
		{
			desc: "insert a task",
			fn:   func(tx store.Tx) error { return tx.InsertTask(item) },
			err:  nil,
		},
		{
			desc: "insert a duplicate task",
			fn:   func(tx store.Tx) error { return tx.InsertTask(item) },
			err:  store.ErrTaskExists,
		},
		{
			desc: "advance a task",
			fn: func(tx store.Tx) error {
				got, err := tx.Task(store.CapabilitiesUpdate, key)
				if err != nil {
					return err
				}
				got.RetryCount++
				got.ExecutionTimeMs = 301000
				return tx.SaveTask(got)
			},
			err: nil,
		},
		{
			desc: "save a missing task",
			fn: func(tx store.Tx) error {
				return tx.SaveTask(store.NewWorkItem(store.CapabilitiesUpdate, store.TaskKey{AccountID: key.AccountID, Version: 5}, 0))
			},
			err: store.ErrTaskNotFound,
		},
	}

	for _, c := range cases {
		err := s.Transact(ctx, c.fn)
		require.Equal(t, c.err, err, c.desc)
	}

	got, err := s.Task(ctx, store.CapabilitiesUpdate, key)
	require.Nil(t, err)
	require.Equal(t, store.WorkItem{
		Kind:            store.CapabilitiesUpdate,
		Key:             key,
		RetryCount:      1,
		ExecutionTimeMs: 301000,
		CreatedTimeMs:   1000,
	}, *got)

	var deleted []bool
	for i := 0; i < 2; i++ {
		err := s.Transact(ctx, func(tx store.Tx) error {
			ok, err := tx.DeleteTask(store.CapabilitiesUpdate, key)
			deleted = append(deleted, ok)
			return err
		})
		require.Nil(t, err)
	}
	require.Equal(t, []bool{true, false}, deleted)
}

func TestConcurrentTaskUpdates(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	key := store.AccountKey(newAccountID())
	require.Nil(t, s.Transact(ctx, func(tx store.Tx) error {
		return tx.InsertTask(store.NewWorkItem(store.PaymentProfileCreating, key, 1000))
	}))

	const claims = 8
	var wg sync.WaitGroup
	errs := make(chan error, claims)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Transact(ctx, func(tx store.Tx) error {
				item, err := tx.Task(store.PaymentProfileCreating, key)
				if err != nil {
					return err
				}
				item.RetryCount++
				return tx.SaveTask(item)
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.Nil(t, err)
	}
	item, err := s.Task(ctx, store.PaymentProfileCreating, key)
	require.Nil(t, err)
	require.Equal(t, claims, item.RetryCount)
}

func TestListDue(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	kind := store.EarningsProfileCreating
	prefix := newAccountID()

	var due []store.TaskKey
	for i := 0; i < 7; i++ {
		key := store.AccountKey(fmt.Sprintf("%s-%02d", prefix, i))
		exec := int64(1000)
		if i%3 == 2 {
			exec = 9000
		} else {
			due = append(due, key)
		}
		require.Nil(t, s.Transact(ctx, func(tx store.Tx) error {
			return tx.InsertTask(store.NewWorkItem(kind, key, exec))
		}))
	}

	var (
		listed []store.TaskKey
		cursor string
		pages  int
	)
	for {
		page, err := s.ListDue(ctx, kind, 5000, cursor, 2)
		require.Nil(t, err)
		pages++
		for _, item := range page.Items {
			if item.Key.AccountID > prefix && item.Key.AccountID < prefix+"~" {
				listed = append(listed, item.Key)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	require.Equal(t, due, listed)
	require.GreaterOrEqual(t, pages, 3)

	_, err := s.ListDue(ctx, kind, 5000, "not a cursor", 2)
	require.Equal(t, store.ErrInvalidCursor, err)
}

func TestReadAccountDoesNotWaitForLock(t *testing.T) {
	s := postgres.NewStore(db)
	ctx := context.Background()
	id := newAccountID()
	createAccount(t, s, id)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Transact(ctx, func(tx store.Tx) error {
			account, err := tx.Account(id)
			if err != nil {
				return err
			}
			account.CapabilitiesVersion = 7
			if err := tx.SaveAccount(account); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var seen int64 = -1
	err := s.Transact(readCtx, func(tx store.Tx) error {
		account, err := tx.ReadAccount(id)
		if err != nil {
			return err
		}
		seen = account.CapabilitiesVersion
		return nil
	})
	close(release)
	require.Nil(t, err)
	require.Nil(t, <-done)
	require.Equal(t, int64(0), seen)

	account, err := s.Account(ctx, id)
	require.Nil(t, err)
	require.Equal(t, int64(7), account.CapabilitiesVersion)
}
