package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ZutrixPog/capsync/history"
	"github.com/ZutrixPog/capsync/store"
	"gorm.io/gorm"
)

var _ history.TaskHistoryRepo = (*HistoryRepo)(nil)

// HistoryRepo keeps task reports in the task_reports table.
type HistoryRepo struct {
	db *gorm.DB
}

func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db}
}

func (repo *HistoryRepo) Append(ctx context.Context, report history.TaskReport) error {
	report.ID = 0
	if err := repo.db.WithContext(ctx).Create(&report).Error; err != nil {
		return fmt.Errorf("%w: task report for %s: %v", store.ErrCreateEntity, report.AccountID, err)
	}
	return nil
}

func (repo *HistoryRepo) Retrieve(ctx context.Context, query history.Query) ([]history.TaskReport, error) {
	reports := make([]history.TaskReport, 0)
	if err := query.BuildGormQuery(ctx, repo.db).Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("%w: task reports: %v", store.ErrRetrieveEntity, err)
	}
	return reports, nil
}

// Prune deletes reports recorded before cutoff and returns how many went.
func (repo *HistoryRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := repo.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&history.TaskReport{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: task reports: %v", store.ErrRemoveEntity, res.Error)
	}
	return res.RowsAffected, nil
}
