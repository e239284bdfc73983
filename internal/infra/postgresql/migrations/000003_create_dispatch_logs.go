package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/rubickcz/smsgate/internal/repository"
)

func createDispatchLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_dispatch_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchLogModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_logs_message_id ON dispatch_logs (message_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchLogModel{})
		},
	}
}
