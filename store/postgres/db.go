package postgres

import (
	"errors"
	"fmt"

	"github.com/ZutrixPog/capsync/store"
	ps "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	ErrMigration          = errors.New("database migration failed")
	ErrDbInitiationFailed = errors.New("couldn't connect to database")
)

func InitDB(dsn string, config *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(ps.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDbInitiationFailed, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates the accounts table and one work item table per task kind.
// Work item indexes are created by hand because every kind shares the same
// row struct and gorm would derive clashing index names from it.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&store.Account{}); err != nil {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}

	for _, kind := range store.TaskKinds() {
		table := kind.Table()
		if err := db.Table(table).AutoMigrate(&taskRow{}); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMigration, table, err)
		}
		ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_execution_time_idx ON %s (execution_time_ms)", table, table)
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMigration, table, err)
		}
	}
	return nil
}
