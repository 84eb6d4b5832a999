// Package api exposes sync notifications, account registration and the
// operator views of the work queue over HTTP.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ZutrixPog/capsync"
	"github.com/ZutrixPog/capsync/history"
	"github.com/ZutrixPog/capsync/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Handler struct {
	store     store.Store
	registrar *capsync.Registrar
	syncers   map[store.Subsystem]*capsync.SyncHandler
	history   history.TaskHistoryRepo
	clock     capsync.Clock
	maxAge    time.Duration
	logger    *zap.Logger
}

type Config struct {
	Store     store.Store
	Registrar *capsync.Registrar
	Syncers   map[store.Subsystem]*capsync.SyncHandler
	History   history.TaskHistoryRepo
	Clock     capsync.Clock
	Logger    *zap.Logger
	// MaxAge marks listed items older than this as abandoned.
	MaxAge time.Duration
}

func NewApp(cfg Config) *fiber.App {
	h := &Handler{
		store:     cfg.Store,
		registrar: cfg.Registrar,
		syncers:   cfg.Syncers,
		history:   cfg.History,
		clock:     cfg.Clock,
		maxAge:    cfg.MaxAge,
		logger:    cfg.Logger,
	}
	if h.clock == nil {
		h.clock = capsync.SystemClock{}
	}
	if h.history == nil {
		h.history = &history.DummyTaskHistoryRepo{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          h.handleError,
	})

	v1 := app.Group("/v1")
	v1.Post("/accounts", h.createAccount)
	v1.Post("/accounts/:id/sync/:subsystem", h.sync)
	v1.Get("/tasks/:kind", h.listDue)
	v1.Get("/history", h.listHistory)

	return app
}

func respondError(c *fiber.Ctx, status int, title, message string) error {
	return c.Status(status).JSON(ErrorResponse{Code: status, Title: title, Message: message})
}

func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return respondError(c, fe.Code, "request_error", fe.Message)
	case errors.Is(err, store.ErrAccountNotFound):
		return respondError(c, fiber.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, store.ErrAccountExists):
		return respondError(c, fiber.StatusConflict, "account_exists", err.Error())
	case errors.Is(err, store.ErrInvalidAccountType),
		errors.Is(err, store.ErrInvalidSubsystem),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrUnknownKind),
		errors.Is(err, store.ErrInvalidCursor):
		return respondError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return respondError(c, fiber.StatusServiceUnavailable, "unavailable", "request cancelled")
	}

	h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return respondError(c, fiber.StatusInternalServerError, "internal_error", "internal error")
}

type createAccountRequest struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (h *Handler) createAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	accountType, err := store.ParseAccountType(req.Type)
	if err != nil {
		return err
	}

	account, err := h.registrar.CreateAccount(c.UserContext(), req.ID, accountType)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

type syncRequest struct {
	State   string `json:"state"`
	Version int64  `json:"version"`
}

type syncResponse struct {
	Applied bool `json:"applied"`
}

func (h *Handler) sync(c *fiber.Ctx) error {
	subsystem, err := store.ParseSubsystem(c.Params("subsystem"))
	if err != nil {
		return err
	}
	syncer, ok := h.syncers[subsystem]
	if !ok {
		return store.ErrInvalidSubsystem
	}

	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}

	applied, err := syncer.Sync(c.UserContext(), c.Params("id"), req.State, req.Version)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(syncResponse{Applied: applied})
}

type taskView struct {
	store.WorkItem
	Abandoned bool `json:"abandoned"`
}

type taskPage struct {
	Items      []taskView `json:"items"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

func (h *Handler) listDue(c *fiber.Ctx) error {
	kind, err := store.ParseTaskKind(c.Params("kind"))
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil {
		return err
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	now := h.clock.Now().UnixMilli()
	page, err := h.store.ListDue(c.UserContext(), kind, now, c.Query("cursor"), limit)
	if err != nil {
		return err
	}

	res := taskPage{Items: make([]taskView, len(page.Items)), NextCursor: page.NextCursor}
	for i, item := range page.Items {
		res.Items[i] = taskView{
			WorkItem:  item,
			Abandoned: capsync.Abandoned(item.CreatedTimeMs, now, h.maxAge),
		}
	}
	return c.JSON(res)
}

func (h *Handler) listHistory(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", defaultLimit)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	reports, err := h.history.Retrieve(c.UserContext(), history.Query{
		Limit:     min(limit, maxLimit),
		Offset:    offset,
		Status:    c.Query("status"),
		Kind:      c.Query("kind"),
		AccountID: c.Query("account"),
	})
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []history.TaskReport{}
	}
	return c.JSON(reports)
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	return v, nil
}
