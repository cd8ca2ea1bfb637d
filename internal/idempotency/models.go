package idempotency

import (
	"time"

	"gorm.io/gorm"
)

// Record caches the response of a completed mutating request so that a
// client retry with the same key returns the original result without
// re-executing side effects. The composite unique index on
// (key, principal_id) is the concurrency backstop: when two requests race,
// exactly one insert wins.
type Record struct {
	gorm.Model     `json:"-"`
	Key            string    `gorm:"uniqueIndex:idx_idempotency_key_principal" json:"key"`
	PrincipalID    string    `gorm:"uniqueIndex:idx_idempotency_key_principal" json:"principal_id"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	RequestBody    string    `gorm:"type:text" json:"request_body"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   string    `gorm:"type:text" json:"response_body"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the table name for Record
func (Record) TableName() string {
	return "idempotency_records"
}

// IsExpired reports whether the record's retention window has passed and
// the key is reusable.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
