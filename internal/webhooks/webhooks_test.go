package webhooks

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/storely/storefront-api/internal/idempotency"
	"github.com/storely/storefront-api/internal/metrics"
	"github.com/storely/storefront-api/internal/orders"
	"github.com/storely/storefront-api/internal/payments"
	"github.com/storely/storefront-api/internal/sequence"
	"github.com/storely/storefront-api/internal/types"
	"github.com/storely/storefront-api/pkg/apperrors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	service *Service
	orders  *orders.Service
	events  *Database
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&types.TrackingEntry{},
		&idempotency.Record{},
		&sequence.SequenceCounter{},
		&WebhookEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	collector := metrics.NewCollector(100)
	orderService := orders.NewService(db, payments.NewDeterministicClient(), collector)

	return &testEnv{
		service: NewService(db, orderService, collector),
		orders:  orderService,
		events:  NewDatabase(db),
		metrics: collector,
	}
}

// placeOrder creates a pending order and returns its order number.
func (env *testEnv) placeOrder(t *testing.T) string {
	t.Helper()

	resp, err := env.orders.CreateOrder(&types.CreateOrderRequest{
		Items: []types.OrderItemRequest{
			{ProductRef: "SKU-TSHIRT", Quantity: 1, UnitPrice: 25.00},
		},
		Currency: "USD",
		Provider: "stripe",
		ShippingAddress: types.AddressRequest{
			Name:    "Ada Shopper",
			Line1:   "1 Commerce Street",
			City:    "Springfield",
			Country: "US",
		},
	}, "cust-1")
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}
	return resp.OrderNumber
}

func paymentEvent(id, eventType, orderNumber string) *Event {
	return &Event{
		ID:   id,
		Type: eventType,
		Data: EventPayload{
			OrderNumber: orderNumber,
			PaymentRef:  "pi_" + id,
			Amount:      25.00,
			Currency:    "USD",
		},
	}
}

func TestHandleEventConfirmsPayment(t *testing.T) {
	env := newTestEnv(t)
	orderNumber := env.placeOrder(t)

	ack, err := env.service.HandleEvent(paymentEvent("evt_1", EventPaymentSucceeded, orderNumber), "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckProcessed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckProcessed)
	}
	if !ack.Received {
		t.Error("ack not marked received")
	}

	order, err := env.orders.GetOrderRecord(orderNumber)
	if err != nil {
		t.Fatalf("GetOrderRecord failed: %v", err)
	}
	if order.Status != orders.StatusPaid {
		t.Errorf("order status = %q, want %q", order.Status, orders.StatusPaid)
	}
	if order.PaymentStatus != orders.PaymentStatusPaid {
		t.Errorf("payment status = %q, want %q", order.PaymentStatus, orders.PaymentStatusPaid)
	}

	record, err := env.events.GetEvent("evt_1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if record == nil {
		t.Fatal("processed event has no dedup record")
	}
	if record.Outcome != OutcomeApplied {
		t.Errorf("outcome = %q, want %q", record.Outcome, OutcomeApplied)
	}
}

func TestHandleEventDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	orderNumber := env.placeOrder(t)

	event := paymentEvent("evt_1", EventPaymentSucceeded, orderNumber)
	if _, err := env.service.HandleEvent(event, "stripe"); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	ack, err := env.service.HandleEvent(event, "stripe")
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if ack.Status != AckAlreadyProcessed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckAlreadyProcessed)
	}

	// One transition, one dedup row, no matter how often the provider
	// redelivers.
	order, err := env.orders.GetOrderRecord(orderNumber)
	if err != nil {
		t.Fatalf("GetOrderRecord failed: %v", err)
	}
	if len(order.TrackingHistory) != 2 {
		t.Errorf("tracking entries = %d, want 2", len(order.TrackingHistory))
	}

	count, err := env.events.CountEvents("evt_1")
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 1 {
		t.Errorf("dedup rows = %d, want 1", count)
	}

	if got := env.metrics.Count(metrics.KeyWebhookDuplicate); got != 1 {
		t.Errorf("duplicate metric count = %d, want 1", got)
	}
}

func TestHandleEventPaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	orderNumber := env.placeOrder(t)

	event := paymentEvent("evt_1", EventPaymentFailed, orderNumber)
	event.Data.Reason = "card_declined"

	ack, err := env.service.HandleEvent(event, "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckProcessed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckProcessed)
	}

	order, err := env.orders.GetOrderRecord(orderNumber)
	if err != nil {
		t.Fatalf("GetOrderRecord failed: %v", err)
	}
	if order.Status != orders.StatusCancelled {
		t.Errorf("order status = %q, want %q", order.Status, orders.StatusCancelled)
	}
	if order.PaymentStatus != orders.PaymentStatusFailed {
		t.Errorf("payment status = %q, want %q", order.PaymentStatus, orders.PaymentStatusFailed)
	}
}

func TestHandleEventStaleDeliveryDiscarded(t *testing.T) {
	env := newTestEnv(t)
	orderNumber := env.placeOrder(t)

	// The customer cancels before the confirmation arrives; the late
	// success event must not resurrect the order.
	if _, err := env.orders.CancelOrder(orderNumber, "cust-1"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}

	ack, err := env.service.HandleEvent(paymentEvent("evt_1", EventPaymentSucceeded, orderNumber), "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckIgnored {
		t.Errorf("ack status = %q, want %q", ack.Status, AckIgnored)
	}

	order, err := env.orders.GetOrderRecord(orderNumber)
	if err != nil {
		t.Fatalf("GetOrderRecord failed: %v", err)
	}
	if order.Status != orders.StatusCancelled {
		t.Errorf("order status = %q, want %q", order.Status, orders.StatusCancelled)
	}

	record, err := env.events.GetEvent("evt_1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if record == nil {
		t.Fatal("stale event has no dedup record")
	}
	if record.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", record.Outcome, OutcomeSkipped)
	}
}

func TestHandleEventUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	ack, err := env.service.HandleEvent(paymentEvent("evt_1", EventPaymentSucceeded, "ORD-19700101-000000"), "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckIgnored {
		t.Errorf("ack status = %q, want %q", ack.Status, AckIgnored)
	}

	record, err := env.events.GetEvent("evt_1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if record == nil {
		t.Fatal("anomalous event has no dedup record")
	}
	if record.Outcome != OutcomeAnomaly {
		t.Errorf("outcome = %q, want %q", record.Outcome, OutcomeAnomaly)
	}
}

func TestHandleEventMissingOrderReference(t *testing.T) {
	env := newTestEnv(t)

	event := paymentEvent("evt_1", EventPaymentSucceeded, "")
	ack, err := env.service.HandleEvent(event, "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckIgnored {
		t.Errorf("ack status = %q, want %q", ack.Status, AckIgnored)
	}
}

func TestHandleEventUnhandledType(t *testing.T) {
	env := newTestEnv(t)
	orderNumber := env.placeOrder(t)

	ack, err := env.service.HandleEvent(paymentEvent("evt_1", "charge.refunded", orderNumber), "stripe")
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if ack.Status != AckIgnored {
		t.Errorf("ack status = %q, want %q", ack.Status, AckIgnored)
	}

	// The order is untouched but the event is still consumed.
	order, err := env.orders.GetOrderRecord(orderNumber)
	if err != nil {
		t.Fatalf("GetOrderRecord failed: %v", err)
	}
	if order.Status != orders.StatusPendingPayment {
		t.Errorf("order status = %q, want %q", order.Status, orders.StatusPendingPayment)
	}

	record, err := env.events.GetEvent("evt_1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if record == nil || record.Outcome != OutcomeSkipped {
		t.Errorf("expected skipped dedup record, got %+v", record)
	}
}

func TestHandleEventUnsupportedProvider(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.HandleEvent(paymentEvent("evt_1", EventPaymentSucceeded, "ORD-20260301-000001"), "bitpay")
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestRecordEventLostRaceStillAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	// A concurrent delivery slipped its dedup row in between this task's
	// pre-check and its own insert; the unique-index conflict is not an
	// error, the winner's row stands.
	event := paymentEvent("evt_1", EventPaymentSucceeded, "ORD-20260301-000001")
	if err := env.events.CreateEvent(&WebhookEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Provider:  "stripe",
		Outcome:   OutcomeApplied,
	}); err != nil {
		t.Fatalf("failed to seed winner row: %v", err)
	}

	if err := env.service.recordEvent(event, "stripe", OutcomeApplied, "", zerolog.Nop()); err != nil {
		t.Fatalf("recordEvent returned %v, want nil when losing the insert race", err)
	}

	count, err := env.events.CountEvents("evt_1")
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if count != 1 {
		t.Errorf("dedup rows = %d, want 1", count)
	}
}

func TestHandleEventDistinctEventsBothApply(t *testing.T) {
	env := newTestEnv(t)

	// Two orders, two events: each applies independently.
	for i := 0; i < 2; i++ {
		orderNumber := env.placeOrder(t)
		eventID := fmt.Sprintf("evt_%d", i)

		ack, err := env.service.HandleEvent(paymentEvent(eventID, EventPaymentSucceeded, orderNumber), "stripe")
		if err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
		if ack.Status != AckProcessed {
			t.Errorf("ack status = %q, want %q", ack.Status, AckProcessed)
		}
	}
}
