package history

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// TaskHistoryRepo records the outcome of every processed work item.
type TaskHistoryRepo interface {
	Append(ctx context.Context, report TaskReport) error
	Retrieve(ctx context.Context, query Query) ([]TaskReport, error)
}

type TaskReport struct {
	ID        uint      `gorm:"primaryKey;not null;unique;autoIncrement" json:"id"`
	Kind      string    `gorm:"not null;index" json:"kind"`
	AccountID string    `gorm:"not null;index" json:"accountId"`
	Version   int64     `gorm:"not null" json:"version"`
	Status    string    `gorm:"not null" json:"status"`
	Attempt   int       `gorm:"not null" json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Submitted time.Time `json:"submitted"`
	CreatedAt time.Time `json:"recorded,omitempty"`
}

type Query struct {
	Limit     int
	Offset    int
	Status    string
	Kind      string
	AccountID string
}

func (query Query) BuildGormQuery(ctx context.Context, db *gorm.DB) *gorm.DB {
	queryBuilder := db.WithContext(ctx).Model(&TaskReport{})

	if query.Limit > 0 {
		queryBuilder = queryBuilder.Limit(query.Limit)
	}

	if query.Offset > 0 {
		queryBuilder = queryBuilder.Offset(query.Offset)
	}

	if query.Status != "" {
		queryBuilder = queryBuilder.Where(&TaskReport{Status: query.Status})
	}

	if query.Kind != "" {
		queryBuilder = queryBuilder.Where(&TaskReport{Kind: query.Kind})
	}

	if query.AccountID != "" {
		queryBuilder = queryBuilder.Where(&TaskReport{AccountID: query.AccountID})
	}

	return queryBuilder.Order("created_at DESC, id DESC")
}

// Matches reports whether the report satisfies the query filters, ignoring
// paging.
func (query Query) Matches(report TaskReport) bool {
	if query.Status != "" && report.Status != query.Status {
		return false
	}
	if query.Kind != "" && report.Kind != query.Kind {
		return false
	}
	if query.AccountID != "" && report.AccountID != query.AccountID {
		return false
	}
	return true
}

type DummyTaskHistoryRepo struct{}

func (dummy *DummyTaskHistoryRepo) Append(ctx context.Context, report TaskReport) error {
	return nil
}

func (dummy *DummyTaskHistoryRepo) Retrieve(ctx context.Context, query Query) ([]TaskReport, error) {
	return nil, nil
}
