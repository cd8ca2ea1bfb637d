package webhooks

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

// GetEvent retrieves the dedup record for an event ID, or nil when the
// event has not been processed.
func (d *Database) GetEvent(eventID string) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := d.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (d *Database) CreateEvent(event *WebhookEvent) error {
	return d.db.Create(event).Error
}

// CountEvents returns the number of dedup records for an event ID.
func (d *Database) CountEvents(eventID string) (int64, error) {
	var count int64
	err := d.db.Model(&WebhookEvent{}).Where("event_id = ?", eventID).Count(&count).Error
	return count, err
}

// DeleteEventsBefore removes dedup records processed before the given time
// and returns the number deleted. Retention is operational cleanup only;
// correctness of the exactly-once guarantee does not depend on it.
func (d *Database) DeleteEventsBefore(before time.Time) (int64, error) {
	result := d.db.Unscoped().Where("processed_at < ?", before).Delete(&WebhookEvent{})
	return result.RowsAffected, result.Error
}
