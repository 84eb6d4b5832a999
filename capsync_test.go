package capsync_test

import (
	"context"
	"testing"

	"github.com/ZutrixPog/capsync"
	downmocks "github.com/ZutrixPog/capsync/downstream/mock"
	histmocks "github.com/ZutrixPog/capsync/history/mock"
	"github.com/ZutrixPog/capsync/store"
	"github.com/ZutrixPog/capsync/store/mem"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type env struct {
	store    *mem.MemStore
	clock    *capsync.ManualClock
	session  *downmocks.SessionService
	commerce *downmocks.Commerce
	history  *histmocks.MockHistoryRepo
	syncers  map[store.Subsystem]*capsync.SyncHandler
}

func newEnv(t *testing.T, nowMs int64) *env {
	t.Helper()

	e := &env{
		store:    mem.NewStore(),
		clock:    capsync.NewManualClock(nowMs),
		session:  downmocks.NewSessionService(),
		commerce: downmocks.NewCommerce(),
		history:  histmocks.NewMockHistoryRepo(),
	}
	syncers, err := capsync.NewSyncHandlers(e.store, e.clock, zap.NewNop())
	require.Nil(t, err)
	e.syncers = syncers
	return e
}

func (e *env) jobs(t *testing.T) []capsync.Job {
	t.Helper()
	jobs, err := capsync.NewJobs(e.runnerConfig(), e.session, e.commerce)
	require.Nil(t, err)
	return jobs
}

func (e *env) runnerConfig() capsync.RunnerConfig {
	return capsync.RunnerConfig{
		Store:   e.store,
		Clock:   e.clock,
		Backoff: capsync.FixedBackoff(capsync.DefaultRetryDelay),
		History: e.history,
		Logger:  zap.NewNop(),
	}
}

// putAccount stores an account without any creation tasks.
func (e *env) putAccount(t *testing.T, account *store.Account) {
	t.Helper()
	err := e.store.Transact(context.Background(), func(tx store.Tx) error {
		return tx.CreateAccount(account)
	})
	require.Nil(t, err)
}

func (e *env) putTask(t *testing.T, item *store.WorkItem) {
	t.Helper()
	err := e.store.Transact(context.Background(), func(tx store.Tx) error {
		return tx.InsertTask(item)
	})
	require.Nil(t, err)
}

func (e *env) pending(t *testing.T, kind store.TaskKind) []store.WorkItem {
	t.Helper()
	page, err := e.store.ListDue(context.Background(), kind, 1<<62, "", 0)
	require.Nil(t, err)
	return page.Items
}

func (e *env) sync(t *testing.T, accountID string, subsystem store.Subsystem, state string, version int64) bool {
	t.Helper()
	applied, err := e.syncers[subsystem].Sync(context.Background(), accountID, state, version)
	require.Nil(t, err)
	return applied
}
