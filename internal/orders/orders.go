package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/internal/auth"
	"github.com/storely/storefront-api/internal/idempotency"
	"github.com/storely/storefront-api/internal/metrics"
	"github.com/storely/storefront-api/internal/payments"
	"github.com/storely/storefront-api/internal/sequence"
	"github.com/storely/storefront-api/internal/types"
	"github.com/storely/storefront-api/pkg/apperrors"
	"github.com/storely/storefront-api/pkg/response"
	"gorm.io/gorm"
)

// PaymentProvider is the slice of the payment client the order service
// depends on.
type PaymentProvider interface {
	CreateIntent(provider, orderNumber string, amount float64, currency string) (*payments.Intent, error)
}

// Service handles order creation, queries, and status transitions.
type Service struct {
	db        *Database
	sequences *sequence.Allocator
	guard     *idempotency.Guard
	provider  PaymentProvider
	metrics   *metrics.Collector
}

// NewService creates an order service with the given database connection,
// payment provider, and metrics collector.
func NewService(gormDB *gorm.DB, provider PaymentProvider, collector *metrics.Collector) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		sequences: sequence.NewAllocator(gormDB),
		guard:     idempotency.NewGuard(gormDB),
		provider:  provider,
		metrics:   collector,
	}
}

// Guard exposes the service's idempotency guard to its HTTP handlers.
func (s *Service) Guard() *idempotency.Guard {
	return s.guard
}

// CreateOrder validates the checkout request, allocates an order number,
// registers a payment intent with the provider, and persists the order in
// its initial pending_payment state. No order row is written unless every
// prior step succeeded, so failures never leave partial orders behind.
func (s *Service) CreateOrder(req *types.CreateOrderRequest, customerID string) (*types.OrderResponse, error) {
	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("customer_id", customerID).
		Str("service", "orders").
		Logger()

	var total float64
	for _, item := range req.Items {
		total += item.UnitPrice * float64(item.Quantity)
	}

	now := time.Now()
	seq, err := s.sequences.NextValue(sequence.DailyKey("orders", now))
	if err != nil {
		return nil, err
	}
	orderNumber := fmt.Sprintf("ORD-%s-%06d", now.UTC().Format("20060102"), seq)

	intent, err := s.provider.CreateIntent(req.Provider, orderNumber, total, req.Currency)
	if err != nil {
		logger.Warn().Err(err).Str("order_number", orderNumber).Msg("payment intent rejected, order not created")
		return nil, err
	}

	order := &types.Order{
		OrderNumber:      orderNumber,
		CustomerID:       customerID,
		Status:           StatusPendingPayment,
		PaymentStatus:    PaymentStatusPending,
		PaymentRef:       intent.PaymentRef,
		Provider:         req.Provider,
		TotalAmount:      total,
		Currency:         req.Currency,
		ShippingName:     req.ShippingAddress.Name,
		ShippingLine1:    req.ShippingAddress.Line1,
		ShippingCity:     req.ShippingAddress.City,
		ShippingPostcode: req.ShippingAddress.Postcode,
		ShippingCountry:  req.ShippingAddress.Country,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, types.OrderItem{
			OrderNumber: orderNumber,
			ProductRef:  item.ProductRef,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	order.TrackingHistory = []types.TrackingEntry{{
		OrderNumber: orderNumber,
		Status:      StatusPendingPayment,
		Message:     "order created, awaiting payment confirmation",
		CreatedAt:   now,
	}}

	if err := s.db.CreateOrder(order); err != nil {
		logger.Error().Err(err).Str("order_number", orderNumber).Msg("failed to persist order")
		return nil, apperrors.Infrastructure("failed to persist order", err)
	}

	s.metrics.Record(metrics.KeyOrderCreated, 1, map[string]string{"provider": req.Provider})
	s.metrics.Record(metrics.KeyOrderAmount, total, map[string]string{"currency": req.Currency})

	logger.Info().
		Str("order_number", orderNumber).
		Str("payment_ref", intent.PaymentRef).
		Float64("total_amount", total).
		Int("items", len(order.Items)).
		Msg("order created")

	return types.NewOrderResponse(order), nil
}

// GetOrder returns the order snapshot for a customer, including the full
// tracking history in chronological order.
func (s *Service) GetOrder(orderNumber, customerID string) (*types.OrderResponse, error) {
	order, err := s.db.GetOrderByNumberAndCustomerID(orderNumber, customerID)
	if err != nil {
		return nil, apperrors.Infrastructure("failed to fetch order", err)
	}
	if order == nil {
		return nil, apperrors.NotFound("order not found")
	}
	return types.NewOrderResponse(order), nil
}

// GetOrderRecord returns the raw aggregate for internal callers such as the
// webhook reconciler.
func (s *Service) GetOrderRecord(orderNumber string) (*types.Order, error) {
	return s.db.GetOrder(orderNumber)
}

// CancelOrder performs a customer-initiated cancellation, permitted only
// while payment has not been confirmed.
func (s *Service) CancelOrder(orderNumber, customerID string) (*types.OrderResponse, error) {
	order, err := s.db.GetOrderByNumberAndCustomerID(orderNumber, customerID)
	if err != nil {
		return nil, apperrors.Infrastructure("failed to fetch order", err)
	}
	if order == nil {
		return nil, apperrors.NotFound("order not found")
	}

	if order.Status != StatusPendingPayment {
		return nil, apperrors.Conflict("order can no longer be cancelled by the customer")
	}

	if err := s.transition(order, StatusCancelled, "", "cancelled by customer"); err != nil {
		return nil, err
	}
	return types.NewOrderResponse(order), nil
}

// UpdateStatus performs an administrative transition along the fulfilment
// path (paid -> processing -> shipped -> delivered, or pre-shipment
// cancellation).
func (s *Service) UpdateStatus(orderNumber string, req *types.UpdateOrderStatusRequest) (*types.OrderResponse, error) {
	if !IsValidStatus(req.Status) {
		return nil, apperrors.Validation("unknown order status: " + req.Status)
	}

	order, err := s.db.GetOrder(orderNumber)
	if err != nil {
		return nil, apperrors.Infrastructure("failed to fetch order", err)
	}
	if order == nil {
		return nil, apperrors.NotFound("order not found")
	}

	message := req.Message
	if message == "" {
		message = "status updated by operator"
	}
	if err := s.transition(order, req.Status, "", message); err != nil {
		return nil, err
	}
	return types.NewOrderResponse(order), nil
}

// MarkPaid records a confirmed payment. Invoked by the webhook reconciler
// exactly once per real-world payment outcome.
func (s *Service) MarkPaid(order *types.Order, paymentRef string) error {
	message := "payment confirmed"
	if paymentRef != "" {
		message = "payment confirmed, ref " + paymentRef
	}
	return s.transition(order, StatusPaid, PaymentStatusPaid, message)
}

// MarkPaymentFailed cancels an order whose payment the provider reported
// as failed, marking the payment status accordingly.
func (s *Service) MarkPaymentFailed(order *types.Order, reason string) error {
	message := "payment failed"
	if reason != "" {
		message = "payment failed: " + reason
	}
	return s.transition(order, StatusCancelled, PaymentStatusFailed, message)
}

// transition applies a guarded edge of the state machine. Illegal edges are
// rejected with a conflict and leave the aggregate untouched. The edge check
// here is advisory only; the status predicate inside ApplyTransition is what
// holds under concurrent writers, and a lost race surfaces as the same
// conflict a stale caller would have seen had it read the winner's status.
func (s *Service) transition(order *types.Order, to, paymentStatus, message string) error {
	if !CanTransition(order.Status, to) {
		return apperrors.Conflict(fmt.Sprintf("cannot transition order from %s to %s", order.Status, to))
	}

	if err := s.db.ApplyTransition(order, to, paymentStatus, message); err != nil {
		if errors.Is(err, ErrStaleOrder) {
			return apperrors.Conflict(fmt.Sprintf("cannot transition order to %s: order status changed concurrently", to))
		}
		return apperrors.Infrastructure("failed to apply order transition", err)
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("status", to).
		Str("service", "orders").
		Msg("order transitioned")
	return nil
}

func validateCreateOrder(req *types.CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return apperrors.Validation("cart is empty")
	}
	for i, item := range req.Items {
		if item.ProductRef == "" {
			return apperrors.Validation(fmt.Sprintf("items[%d]: product_ref is required", i))
		}
		if item.Quantity <= 0 {
			return apperrors.Validation(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if item.UnitPrice < 0 {
			return apperrors.Validation(fmt.Sprintf("items[%d]: unit_price cannot be negative", i))
		}
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if len(req.Currency) != 3 {
		return apperrors.Validation("currency must be a 3-letter code")
	}
	if req.Provider == "" {
		req.Provider = "stripe"
	}
	if !payments.SupportedProvider(req.Provider) {
		return apperrors.Validation("unsupported payment provider: " + req.Provider)
	}
	addr := req.ShippingAddress
	if addr.Name == "" || addr.Line1 == "" || addr.City == "" || addr.Country == "" {
		return apperrors.Validation("shipping address requires name, line1, city, and country")
	}
	return nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create new orders.
// Requires a valid JWT token; an Idempotency-Key header is optional but
// recommended. Replays with the same key return the original response
// byte-for-byte.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := customerFromContext(c)
		if customerID == "" {
			response.Unauthorized(c, "Invalid customer ID in token")
			return
		}

		body, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "failed to read request body")
			return
		}

		var req types.CreateOrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")

		result, replayed, err := h.service.Guard().Process(idempotencyKey, customerID, body,
			func() (*idempotency.Result, error) {
				orderResp, err := h.service.CreateOrder(&req, customerID)
				if err != nil {
					return nil, err
				}
				payload, err := json.Marshal(response.Response{Success: true, Data: orderResp})
				if err != nil {
					return nil, apperrors.Infrastructure("failed to encode order response", err)
				}
				return &idempotency.Result{
					Status:       http.StatusCreated,
					Body:         payload,
					ResourceType: "order",
					ResourceID:   orderResp.OrderNumber,
				}, nil
			})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		if replayed {
			c.Header("Idempotent-Replayed", "true")
		}
		c.Data(result.Status, "application/json", result.Body)
	}
}

// GetOrderHandler handles GET requests to retrieve an order snapshot
// Requires a valid JWT token
// URL parameter: order_number
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := customerFromContext(c)
		if customerID == "" {
			response.Unauthorized(c, "Invalid customer ID in token")
			return
		}

		orderNumber := c.Param("order_number")
		if orderNumber == "" {
			response.BadRequest(c, "Order number is required")
			return
		}

		order, err := h.service.GetOrder(orderNumber, customerID)
		response.Handle(c, order, err)
	}
}

// CancelOrderHandler handles POST requests for customer-initiated
// cancellation of an unpaid order.
// URL parameter: order_number
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := customerFromContext(c)
		if customerID == "" {
			response.Unauthorized(c, "Invalid customer ID in token")
			return
		}

		orderNumber := c.Param("order_number")
		order, err := h.service.CancelOrder(orderNumber, customerID)
		response.Handle(c, order, err)
	}
}

// UpdateOrderStatusHandler handles POST requests for administrative status
// transitions. Requires internal authentication.
// URL parameter: order_number
func (h *GinHandlers) UpdateOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		var req types.UpdateOrderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.UpdateStatus(orderNumber, &req)
		response.Handle(c, order, err)
	}
}

func customerFromContext(c *gin.Context) string {
	if customerID := c.GetString("customerID"); customerID != "" {
		return customerID
	}
	claims, exists := c.Get("claims")
	if !exists {
		return ""
	}
	return auth.GetCustomerID(claims)
}
