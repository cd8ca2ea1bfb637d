// Package webhooks reconciles asynchronous payment-provider events with
// order state. Providers deliver at-least-once; the reconciler guarantees
// each event drives at most one order transition.
package webhooks

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/internal/metrics"
	"github.com/storely/storefront-api/internal/orders"
	"github.com/storely/storefront-api/pkg/apperrors"
	"github.com/storely/storefront-api/pkg/response"
	"gorm.io/gorm"
)

// Event types acted on by the reconciler.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Processing outcomes recorded on the dedup row.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeAnomaly = "anomaly"
)

// Ack statuses returned to the provider.
const (
	AckProcessed        = "processed"
	AckAlreadyProcessed = "already_processed"
	AckIgnored          = "ignored"
)

var supportedProviders = map[string]bool{
	"stripe": true,
	"paypal": true,
}

// Service consumes provider events and drives order transitions.
type Service struct {
	db      *Database
	orders  *orders.Service
	metrics *metrics.Collector
}

// NewService creates a webhook reconciler with the given database
// connection, order service, and metrics collector.
func NewService(gormDB *gorm.DB, orderService *orders.Service, collector *metrics.Collector) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		orders:  orderService,
		metrics: collector,
	}
}

// HandleEvent processes one provider delivery.
//
// The dedup check on event ID runs before any mutation; a replayed event is
// acknowledged without touching the order. Stale events whose transition
// the state machine rejects, and events referencing unknown orders, are
// recorded and acknowledged rather than retried, to keep provider retry
// storms away. Only infrastructure failures propagate, so the provider
// retries those deliveries.
func (s *Service) HandleEvent(event *Event, provider string) (*Ack, error) {
	start := time.Now()

	logger := log.With().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("provider", provider).
		Str("service", "webhooks").
		Logger()

	if !supportedProviders[provider] {
		return nil, apperrors.Validation("unsupported webhook provider: " + provider)
	}

	existing, err := s.db.GetEvent(event.ID)
	if err != nil {
		return nil, apperrors.Infrastructure("failed to check webhook event", err)
	}
	if existing != nil {
		logger.Info().Str("outcome", existing.Outcome).Msg("duplicate webhook delivery, skipping")
		s.metrics.Record(metrics.KeyWebhookDuplicate, 1, map[string]string{"provider": provider})
		return &Ack{Received: true, EventID: event.ID, Status: AckAlreadyProcessed}, nil
	}

	outcome, detail, err := s.apply(event, logger)
	if err != nil {
		return nil, err
	}

	if err := s.recordEvent(event, provider, outcome, detail, logger); err != nil {
		return nil, err
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	s.metrics.Record(metrics.KeyWebhookDuration, elapsed, map[string]string{
		"provider": provider,
		"outcome":  outcome,
	})

	status := AckProcessed
	if outcome != OutcomeApplied {
		status = AckIgnored
	}

	logger.Info().
		Str("outcome", outcome).
		Float64("duration_ms", elapsed).
		Msg("webhook event processed")

	return &Ack{Received: true, EventID: event.ID, Status: status}, nil
}

// apply resolves the referenced order and attempts the transition for the
// event type. It returns the processing outcome and a short detail string
// for the dedup row.
func (s *Service) apply(event *Event, logger zerolog.Logger) (outcome, detail string, err error) {
	if event.Data.OrderNumber == "" {
		logger.Warn().Msg("webhook event carries no order reference")
		return OutcomeAnomaly, "missing order reference", nil
	}

	order, err := s.orders.GetOrderRecord(event.Data.OrderNumber)
	if err != nil {
		return "", "", apperrors.Infrastructure("failed to resolve order for webhook event", err)
	}
	if order == nil {
		// Unknown reference: acknowledged as an anomaly rather than
		// retried indefinitely, to avoid provider retry storms.
		logger.Warn().
			Str("order_number", event.Data.OrderNumber).
			Msg("webhook event references unknown order")
		return OutcomeAnomaly, "unknown order " + event.Data.OrderNumber, nil
	}

	var transitionErr error
	switch event.Type {
	case EventPaymentSucceeded:
		transitionErr = s.orders.MarkPaid(order, event.Data.PaymentRef)
	case EventPaymentFailed:
		transitionErr = s.orders.MarkPaymentFailed(order, event.Data.Reason)
	default:
		logger.Info().Msg("unhandled webhook event type")
		return OutcomeSkipped, "unhandled event type " + event.Type, nil
	}

	if transitionErr != nil {
		if apperrors.HasCode(transitionErr, apperrors.CodeConflict) {
			// Stale or out-of-order delivery: the order already moved on.
			// Discard rather than fail so the provider stops retrying.
			logger.Warn().
				Str("order_number", order.OrderNumber).
				Str("order_status", order.Status).
				Msg("webhook event would make an invalid transition, discarding")
			return OutcomeSkipped, transitionErr.Error(), nil
		}
		return "", "", transitionErr
	}

	if event.Type == EventPaymentSucceeded {
		s.metrics.Record(metrics.KeyPaymentSucceeded, event.Data.Amount, map[string]string{
			"order_number": order.OrderNumber,
		})
	} else {
		s.metrics.Record(metrics.KeyPaymentFailed, 1, map[string]string{
			"order_number": order.OrderNumber,
			"reason":       event.Data.Reason,
		})
	}

	return OutcomeApplied, "", nil
}

// recordEvent writes the dedup row for the event. This happens even when
// the transition was a no-op, so future retries short-circuit at the dedup
// check. When two concurrent deliveries race, exactly one insert wins and
// the loser treats the conflict as "already processed".
func (s *Service) recordEvent(event *Event, provider, outcome, detail string, logger zerolog.Logger) error {
	metadata, _ := json.Marshal(map[string]string{
		"payment_ref": event.Data.PaymentRef,
		"detail":      detail,
	})

	record := &WebhookEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		Provider:    provider,
		OrderNumber: event.Data.OrderNumber,
		Outcome:     outcome,
		ProcessedAt: time.Now(),
		Metadata:    string(metadata),
	}

	if err := s.db.CreateEvent(record); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Info().Msg("concurrent delivery recorded this event first")
			return nil
		}
		// The transition (if any) is already durable; a retry will hit the
		// state machine's conflict guard and eventually write this row.
		logger.Error().Err(err).Msg("failed to record webhook event, acknowledging anyway")
	}
	return nil
}

// GinHandlers contains HTTP handlers for webhook endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for webhook endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// HandleEventHandler handles POST deliveries from payment providers.
// The endpoint is safe to call repeatedly with the same event ID and
// returns success even for events the reconciler chooses not to act on.
// URL parameter: provider
func (h *GinHandlers) HandleEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")

		var event Event
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		ack, err := h.service.HandleEvent(&event, provider)
		response.Handle(c, ack, err)
	}
}
