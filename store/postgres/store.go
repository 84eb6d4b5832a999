package postgres

import (
	"context"
	"errors"

	"github.com/ZutrixPog/capsync/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ store.Store = (*PostgresStore)(nil)

// taskRow is the column layout shared by every work item table.
type taskRow struct {
	AccountID       string `gorm:"primaryKey;not null"`
	Version         int64  `gorm:"primaryKey;autoIncrement:false;not null"`
	RetryCount      int    `gorm:"not null"`
	ExecutionTimeMs int64  `gorm:"not null"`
	CreatedTimeMs   int64  `gorm:"not null"`
}

func toRow(item *store.WorkItem) taskRow {
	return taskRow{
		AccountID:       item.Key.AccountID,
		Version:         item.Key.Version,
		RetryCount:      item.RetryCount,
		ExecutionTimeMs: item.ExecutionTimeMs,
		CreatedTimeMs:   item.CreatedTimeMs,
	}
}

func (r taskRow) item(kind store.TaskKind) store.WorkItem {
	return store.WorkItem{
		Kind:            kind,
		Key:             store.TaskKey{AccountID: r.AccountID, Version: r.Version},
		RetryCount:      r.RetryCount,
		ExecutionTimeMs: r.ExecutionTimeMs,
		CreatedTimeMs:   r.CreatedTimeMs,
	}
}

type PostgresStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db}
}

func (s *PostgresStore) Transact(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgTx{tx})
	})
}

func (s *PostgresStore) ListDue(ctx context.Context, kind store.TaskKind, nowMs int64, cursor string, limit int) (store.Page, error) {
	after, hasCursor, err := store.DecodeCursor(cursor)
	if err != nil {
		return store.Page{}, err
	}

	query := s.db.WithContext(ctx).
		Table(kind.Table()).
		Where("execution_time_ms <= ?", nowMs)
	if hasCursor {
		query = query.Where("(account_id > ? OR (account_id = ? AND version > ?))", after.AccountID, after.AccountID, after.Version)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []taskRow
	if err := query.Order("account_id, version").Find(&rows).Error; err != nil {
		return store.Page{}, store.ErrRetrieveEntity
	}

	items := make([]store.WorkItem, len(rows))
	for i, r := range rows {
		items[i] = r.item(kind)
	}

	next, err := store.NextCursor(items, limit)
	if err != nil {
		return store.Page{}, err
	}
	return store.Page{Items: items, NextCursor: next}, nil
}

func (s *PostgresStore) Account(ctx context.Context, id string) (*store.Account, error) {
	return findAccount(s.db.WithContext(ctx), id)
}

func (s *PostgresStore) Task(ctx context.Context, kind store.TaskKind, key store.TaskKey) (*store.WorkItem, error) {
	return findTask(s.db.WithContext(ctx), kind, key)
}

type pgTx struct {
	db *gorm.DB
}

func (tx *pgTx) locked() *gorm.DB {
	return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *pgTx) Account(id string) (*store.Account, error) {
	return findAccount(tx.locked(), id)
}

func (tx *pgTx) ReadAccount(id string) (*store.Account, error) {
	return findAccount(tx.db, id)
}

func (tx *pgTx) CreateAccount(account *store.Account) error {
	res := tx.db.Clauses(clause.OnConflict{DoNothing: true}).Create(account)
	if res.Error != nil {
		return store.ErrCreateEntity
	}
	if res.RowsAffected == 0 {
		return store.ErrAccountExists
	}
	return nil
}

func (tx *pgTx) SaveAccount(account *store.Account) error {
	res := tx.db.Model(account).Select("*").Omit("created_at").Updates(account)
	if res.Error != nil {
		return store.ErrUpdateEntity
	}
	if res.RowsAffected == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

func (tx *pgTx) Task(kind store.TaskKind, key store.TaskKey) (*store.WorkItem, error) {
	return findTask(tx.locked(), kind, key)
}

func (tx *pgTx) InsertTask(item *store.WorkItem) error {
	row := toRow(item)
	res := tx.db.Table(item.Kind.Table()).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return store.ErrCreateEntity
	}
	if res.RowsAffected == 0 {
		return store.ErrTaskExists
	}
	return nil
}

func (tx *pgTx) SaveTask(item *store.WorkItem) error {
	res := tx.db.Table(item.Kind.Table()).
		Where("account_id = ? AND version = ?", item.Key.AccountID, item.Key.Version).
		Updates(map[string]any{
			"retry_count":       item.RetryCount,
			"execution_time_ms": item.ExecutionTimeMs,
		})
	if res.Error != nil {
		return store.ErrUpdateEntity
	}
	if res.RowsAffected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

func (tx *pgTx) DeleteTask(kind store.TaskKind, key store.TaskKey) (bool, error) {
	res := tx.db.Table(kind.Table()).
		Where("account_id = ? AND version = ?", key.AccountID, key.Version).
		Delete(&taskRow{})
	if res.Error != nil {
		return false, store.ErrRemoveEntity
	}
	return res.RowsAffected > 0, nil
}

func findAccount(db *gorm.DB, id string) (*store.Account, error) {
	var account store.Account
	if err := db.Where("id = ?", id).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrAccountNotFound
		}
		return nil, store.ErrRetrieveEntity
	}
	return &account, nil
}

func findTask(db *gorm.DB, kind store.TaskKind, key store.TaskKey) (*store.WorkItem, error) {
	var row taskRow
	err := db.Table(kind.Table()).
		Where("account_id = ? AND version = ?", key.AccountID, key.Version).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.ErrRetrieveEntity
	}
	item := row.item(kind)
	return &item, nil
}
