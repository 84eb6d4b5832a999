package postgres

import (
	"fmt"

	"github.com/ZutrixPog/capsync/history"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&history.TaskReport{}); err != nil {
		return fmt.Errorf("task history migration failed: %w", err)
	}
	return nil
}
