package migrations

import (
	"github.com/storely/storefront-api/internal/webhooks"
	"gorm.io/gorm"
)

func AddWebhookEvents(db *gorm.DB) error {
	return db.AutoMigrate(&webhooks.WebhookEvent{})
}
