package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZutrixPog/capsync"
	"github.com/ZutrixPog/capsync/api"
	"github.com/ZutrixPog/capsync/history"
	mocks "github.com/ZutrixPog/capsync/history/mock"
	"github.com/ZutrixPog/capsync/store"
	"github.com/ZutrixPog/capsync/store/mem"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	app     *fiber.App
	store   *mem.MemStore
	clock   *capsync.ManualClock
	history *mocks.MockHistoryRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	st := mem.NewStore()
	clock := capsync.NewManualClock(1000)
	hist := mocks.NewMockHistoryRepo()

	syncers, err := capsync.NewSyncHandlers(st, clock, nil)
	require.Nil(t, err)

	app := api.NewApp(api.Config{
		Store:     st,
		Registrar: capsync.NewRegistrar(st, clock, nil),
		Syncers:   syncers,
		History:   hist,
		Clock:     clock,
		MaxAge:    capsync.DefaultMaxAge,
	})
	return &testApp{app: app, store: st, clock: clock, history: hist}
}

func (ta *testApp) do(t *testing.T, method, target, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ta.app.Test(req, -1)
	require.Nil(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp.StatusCode, data
}

func TestCreateAccount(t *testing.T) {
	ta := newTestApp(t)

	cases := []struct {
		desc   string
		body   string
		status int
	}{
		{desc: "create consumer", body: `{"id":"account1","type":"consumer"}`, status: http.StatusCreated},
		{desc: "create duplicate", body: `{"id":"account1","type":"publisher"}`, status: http.StatusConflict},
		{desc: "invalid type", body: `{"id":"account2","type":"admin"}`, status: http.StatusBadRequest},
		{desc: "malformed body", body: `{"id":`, status: http.StatusBadRequest},
		{desc: "generated id", body: `{"type":"publisher"}`, status: http.StatusCreated},
	}

	for _, c := range cases {
		status, body := ta.do(t, http.MethodPost, "/v1/accounts", c.body)
		require.Equal(t, c.status, status, "%s: %s", c.desc, body)
	}

	account, err := ta.store.Account(context.Background(), "account1")
	require.Nil(t, err)
	require.Equal(t, store.Consumer, account.Type)
}

func TestSync(t *testing.T) {
	ta := newTestApp(t)
	status, _ := ta.do(t, http.MethodPost, "/v1/accounts", `{"id":"account1","type":"consumer"}`)
	require.Equal(t, http.StatusCreated, status)

	cases := []struct {
		desc    string
		target  string
		body    string
		status  int
		applied bool
	}{
		{
			desc:    "apply a new state",
			target:  "/v1/accounts/account1/sync/billing-account",
			body:    `{"state":"active","version":2}`,
			status:  http.StatusOK,
			applied: true,
		},
		{
			desc:    "stale state is accepted",
			target:  "/v1/accounts/account1/sync/billing-account",
			body:    `{"state":"closed","version":1}`,
			status:  http.StatusOK,
			applied: false,
		},
		{
			desc:   "unknown subsystem",
			target: "/v1/accounts/account1/sync/loyalty",
			body:   `{"state":"valid","version":1}`,
			status: http.StatusBadRequest,
		},
		{
			desc:   "invalid state",
			target: "/v1/accounts/account1/sync/payment-profile",
			body:   `{"state":"active","version":1}`,
			status: http.StatusBadRequest,
		},
		{
			desc:   "unknown account",
			target: "/v1/accounts/nobody/sync/payment-profile",
			body:   `{"state":"valid","version":1}`,
			status: http.StatusNotFound,
		},
	}

	for _, c := range cases {
		status, body := ta.do(t, http.MethodPost, c.target, c.body)
		require.Equal(t, c.status, status, "%s: %s", c.desc, body)
		if status != http.StatusOK {
			var res api.ErrorResponse
			require.Nil(t, json.Unmarshal(body, &res), c.desc)
			require.Equal(t, c.status, res.Code, c.desc)
			continue
		}
		var res struct {
			Applied bool `json:"applied"`
		}
		require.Nil(t, json.Unmarshal(body, &res), c.desc)
		require.Equal(t, c.applied, res.Applied, c.desc)
	}

	account, err := ta.store.Account(context.Background(), "account1")
	require.Nil(t, err)
	require.Equal(t, store.VersionedState{Value: store.BillingAccountActive, Version: 2}, account.BillingAccount)
	require.Equal(t, int64(1), account.CapabilitiesVersion)
}

type listedPage struct {
	Items []struct {
		Key        store.TaskKey `json:"key"`
		RetryCount int           `json:"retryCount"`
		Abandoned  bool          `json:"abandoned"`
	} `json:"items"`
	NextCursor string `json:"nextCursor"`
}

func TestListDue(t *testing.T) {
	ta := newTestApp(t)
	for _, id := range []string{"a1", "a2", "a3"} {
		status, _ := ta.do(t, http.MethodPost, "/v1/accounts", `{"id":"`+id+`","type":"consumer"}`)
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := ta.do(t, http.MethodGet, "/v1/tasks/billing-account-creating?limit=2", "")
	require.Equal(t, http.StatusOK, status)
	var first listedPage
	require.Nil(t, json.Unmarshal(body, &first))
	require.Len(t, first.Items, 2)
	require.Equal(t, "a1", first.Items[0].Key.AccountID)
	require.NotEmpty(t, first.NextCursor)

	status, body = ta.do(t, http.MethodGet, "/v1/tasks/billing-account-creating?limit=2&cursor="+first.NextCursor, "")
	require.Equal(t, http.StatusOK, status)
	var second listedPage
	require.Nil(t, json.Unmarshal(body, &second))
	require.Len(t, second.Items, 1)
	require.Equal(t, "a3", second.Items[0].Key.AccountID)
	require.Empty(t, second.NextCursor)

	ta.clock.Advance(25 * time.Hour)
	status, body = ta.do(t, http.MethodGet, "/v1/tasks/payment-profile-creating", "")
	require.Equal(t, http.StatusOK, status)
	var overdue listedPage
	require.Nil(t, json.Unmarshal(body, &overdue))
	require.Len(t, overdue.Items, 3)
	require.True(t, overdue.Items[0].Abandoned)

	cases := []struct {
		desc   string
		target string
		status int
	}{
		{desc: "unknown kind", target: "/v1/tasks/loyalty-creating", status: http.StatusBadRequest},
		{desc: "bad cursor", target: "/v1/tasks/capabilities-update?cursor=%25%25", status: http.StatusBadRequest},
		{desc: "bad limit", target: "/v1/tasks/capabilities-update?limit=-3", status: http.StatusBadRequest},
	}
	for _, c := range cases {
		status, body := ta.do(t, http.MethodGet, c.target, "")
		require.Equal(t, c.status, status, "%s: %s", c.desc, body)
	}
}

func TestListHistory(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	require.Nil(t, ta.history.Append(ctx, history.TaskReport{Kind: "capabilities-update", AccountID: "a1", Status: history.StatusFailed}))
	require.Nil(t, ta.history.Append(ctx, history.TaskReport{Kind: "capabilities-update", AccountID: "a1", Status: history.StatusCompleted}))
	require.Nil(t, ta.history.Append(ctx, history.TaskReport{Kind: "billing-account-creating", AccountID: "a2", Status: history.StatusCompleted}))

	cases := []struct {
		desc   string
		target string
		count  int
		status int
	}{
		{desc: "everything", target: "/v1/history", count: 3, status: http.StatusOK},
		{desc: "by kind", target: "/v1/history?kind=capabilities-update", count: 2, status: http.StatusOK},
		{desc: "by status", target: "/v1/history?status=completed", count: 2, status: http.StatusOK},
		{desc: "by account", target: "/v1/history?account=a2", count: 1, status: http.StatusOK},
		{desc: "paged", target: "/v1/history?limit=1&offset=2", count: 1, status: http.StatusOK},
		{desc: "bad offset", target: "/v1/history?offset=x", status: http.StatusBadRequest},
	}

	for _, c := range cases {
		status, body := ta.do(t, http.MethodGet, c.target, "")
		require.Equal(t, c.status, status, "%s: %s", c.desc, body)
		if status != http.StatusOK {
			continue
		}
		var reports []history.TaskReport
		require.Nil(t, json.Unmarshal(body, &reports), c.desc)
		require.Len(t, reports, c.count, c.desc)
	}
}
