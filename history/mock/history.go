package mocks

import (
	"context"
	"sync"

	"github.com/ZutrixPog/capsync/history"
)

var _ history.TaskHistoryRepo = (*MockHistoryRepo)(nil)

type MockHistoryRepo struct {
	history []history.TaskReport
	mu      sync.Mutex
}

func NewMockHistoryRepo() *MockHistoryRepo {
	return &MockHistoryRepo{
		history: make([]history.TaskReport, 0),
	}
}

func (repo *MockHistoryRepo) Append(ctx context.Context, report history.TaskReport) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	report.ID = uint(len(repo.history) + 1)
	repo.history = append(repo.history, report)
	return nil
}

// Retrieve returns matching reports newest first.
func (repo *MockHistoryRepo) Retrieve(ctx context.Context, query history.Query) ([]history.TaskReport, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	res := make([]history.TaskReport, 0)
	skipped := 0
	for i := len(repo.history) - 1; i >= 0; i-- {
		if !query.Matches(repo.history[i]) {
			continue
		}
		if skipped < query.Offset {
			skipped++
			continue
		}
		res = append(res, repo.history[i])
		if query.Limit > 0 && len(res) == query.Limit {
			break
		}
	}

	return res, nil
}
