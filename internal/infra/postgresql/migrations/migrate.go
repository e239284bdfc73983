package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate applies all schema migrations in order.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createMessagesTable(),
		createTemplatesTable(),
		createDispatchLogsTable(),
		createBatchesTable(),
	})

	return m.Migrate()
}
