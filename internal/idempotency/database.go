package idempotency

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetRecord retrieves the record for a (key, principal) pair, or nil when
// none exists.
func (d *Database) GetRecord(key, principalID string) (*Record, error) {
	var record Record
	if err := d.db.Where("key = ? AND principal_id = ?", key, principalID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) CreateRecord(record *Record) error {
	return d.db.Create(record).Error
}

// DeleteRecord removes a record so its key becomes reusable.
func (d *Database) DeleteRecord(key, principalID string) error {
	return d.db.Unscoped().
		Where("key = ? AND principal_id = ?", key, principalID).
		Delete(&Record{}).Error
}

// DeleteExpired removes all records whose retention window passed before
// the given time and returns the number deleted.
func (d *Database) DeleteExpired(before time.Time) (int64, error) {
	result := d.db.Unscoped().Where("expires_at < ?", before).Delete(&Record{})
	return result.RowsAffected, result.Error
}
