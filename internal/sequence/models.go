package sequence

import "gorm.io/gorm"

// SequenceCounter is a named, monotonically increasing counter row. The
// value only ever moves through the single upsert-increment statement in
// Allocator.NextValue, never through application-level read-then-write.
type SequenceCounter struct {
	gorm.Model  `json:"-"`
	SequenceKey string `gorm:"uniqueIndex" json:"sequence_key"`
	Value       int64  `json:"value"`
}
