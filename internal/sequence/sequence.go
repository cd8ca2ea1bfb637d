// Package sequence allocates collision-free, strictly increasing integers
// per named counter. Order numbers are derived from a per-day bucket so they
// stay short and human-legible while never colliding under concurrent
// checkouts.
package sequence

import (
	"fmt"
	"time"

	"github.com/storely/storefront-api/pkg/apperrors"
	"gorm.io/gorm"
)

// Allocator hands out the next value for a named sequence.
type Allocator struct {
	db *gorm.DB
}

// NewAllocator creates a sequence allocator backed by the given database.
func NewAllocator(db *gorm.DB) *Allocator {
	return &Allocator{db: db}
}

// NextValue increments the named counter and returns the new value. The
// increment is a single atomic upsert against the counter row; two
// concurrent callers can never observe the same value. A counter is
// created on first use.
func (a *Allocator) NextValue(sequenceKey string) (int64, error) {
	if sequenceKey == "" {
		return 0, apperrors.Validation("sequence key is required")
	}

	var value int64
	now := time.Now()
	err := a.db.Raw(`
		INSERT INTO sequence_counters (sequence_key, value, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (sequence_key)
		DO UPDATE SET value = sequence_counters.value + 1, updated_at = excluded.updated_at
		RETURNING value`,
		sequenceKey, now, now,
	).Scan(&value).Error
	if err != nil {
		return 0, apperrors.Infrastructure("failed to advance sequence "+sequenceKey, err)
	}

	return value, nil
}

// DailyKey returns the per-day bucket key for a sequence, e.g.
// "orders_2026-01-01". All checkouts on the same UTC day share one counter.
func DailyKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s", prefix, t.UTC().Format("2006-01-02"))
}
