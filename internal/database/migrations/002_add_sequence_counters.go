package migrations

import (
	"github.com/storely/storefront-api/internal/sequence"
	"gorm.io/gorm"
)

func AddSequenceCounters(db *gorm.DB) error {
	return db.AutoMigrate(&sequence.SequenceCounter{})
}
