package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/rubickcz/smsgate/internal/repository"
)

func createMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages (backend, created_at) WHERE state IN ('SENDING', 'UNKNOWN')`,
				`CREATE INDEX IF NOT EXISTS idx_messages_batch_id ON messages (batch_id) WHERE batch_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_template_slug ON messages (template_slug) WHERE template_slug IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_external_id ON messages (external_id) WHERE external_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_messages_state_created ON messages (state, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MessageModel{})
		},
	}
}
