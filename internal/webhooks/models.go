package webhooks

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is the dedup record for a provider delivery. The unique
// index on event_id is what turns the provider's at-least-once delivery
// into an exactly-once order transition: the first delivery to insert the
// row wins, every later one short-circuits.
type WebhookEvent struct {
	gorm.Model  `json:"-"`
	EventID     string    `gorm:"uniqueIndex" json:"event_id"`
	EventType   string    `json:"event_type"`
	Provider    string    `json:"provider"`
	OrderNumber string    `gorm:"index" json:"order_number"`
	Outcome     string    `json:"outcome"` // applied, skipped, anomaly
	ProcessedAt time.Time `json:"processed_at"`
	Metadata    string    `gorm:"type:text" json:"metadata"`
}

// Event is the inbound delivery envelope from a payment provider.
type Event struct {
	ID   string       `json:"id" binding:"required"`
	Type string       `json:"type" binding:"required"`
	Data EventPayload `json:"data"`
}

// EventPayload carries the order/payment reference embedded in the
// provider's event.
type EventPayload struct {
	OrderNumber string  `json:"order_number"`
	PaymentRef  string  `json:"payment_ref"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Reason      string  `json:"reason"`
}

// Ack is the acknowledgement returned to the provider. Deliveries the
// reconciler chooses not to act on are still acknowledged so the provider
// stops retrying.
type Ack struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id"`
	Status   string `json:"status"` // processed, already_processed, ignored
}
