package database

import (
	"fmt"

	"github.com/storely/storefront-api/internal/database/migrations"
	"github.com/storely/storefront-api/internal/idempotency"
	"github.com/storely/storefront-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection.
// TranslateError is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey; the idempotency guard and webhook dedup depend on
// detecting that sentinel.
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "storefront.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddWebhookEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddSequenceCounters(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&types.TrackingEntry{},
		&idempotency.Record{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
