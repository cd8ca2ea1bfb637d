// Package payments talks to the external payment provider. The real
// integration is out of scope; this client simulates provider behavior
// (latency, declines, outages) behind the same interface the order service
// would use against a live gateway.
package payments

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/pkg/apperrors"
)

// Intent statuses reported by the provider.
const (
	IntentStatusRequiresConfirmation = "requires_confirmation"
)

// Provider models a payment provider's simulated characteristics.
type Provider struct {
	ID          string
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	DeclineRate float64 // 0-1, probability the provider declines the intent
	OutageRate  float64 // 0-1, probability the provider is unreachable
}

var mockProviders = map[string]*Provider{
	"stripe": {
		ID:          "stripe",
		Name:        "Stripe",
		MinLatency:  10,
		MaxLatency:  60,
		DeclineRate: 0.03,
		OutageRate:  0.005,
	},
	"paypal": {
		ID:          "paypal",
		Name:        "PayPal",
		MinLatency:  20,
		MaxLatency:  120,
		DeclineRate: 0.05,
		OutageRate:  0.01,
	},
}

// Intent is the provider's acknowledgement of a pending payment. The
// provider confirms or fails the payment asynchronously via webhook.
type Intent struct {
	PaymentRef string    `json:"payment_ref"`
	Provider   string    `json:"provider"`
	Status     string    `json:"status"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client submits payment intents to the mock providers.
type Client struct {
	simulateFailures bool
}

// NewClient creates a provider client with realistic decline and outage
// simulation enabled.
func NewClient() *Client {
	return &Client{simulateFailures: true}
}

// NewDeterministicClient creates a client that never declines and never
// simulates outages. Used by tests and local tooling that need stable runs.
func NewDeterministicClient() *Client {
	return &Client{}
}

// SupportedProvider reports whether the named provider is integrated.
func SupportedProvider(provider string) bool {
	_, ok := mockProviders[provider]
	return ok
}

// CreateIntent registers a payment intent with the provider for the given
// order. Declines surface as PaymentError, provider outages as
// ExternalServiceError; in both cases no intent exists and the caller must
// not create an order.
func (c *Client) CreateIntent(provider, orderNumber string, amount float64, currency string) (*Intent, error) {
	p, ok := mockProviders[provider]
	if !ok {
		return nil, apperrors.Validation("unsupported payment provider: " + provider)
	}

	logger := log.With().
		Str("provider", p.ID).
		Str("order_number", orderNumber).
		Float64("amount", amount).
		Str("currency", currency).
		Logger()

	logger.Info().Msg("submitting payment intent")

	if c.simulateFailures {
		// Simulate network latency to the provider
		latency := rand.Intn(p.MaxLatency-p.MinLatency+1) + p.MinLatency
		time.Sleep(time.Duration(latency) * time.Millisecond)

		if rand.Float64() < p.OutageRate {
			logger.Warn().Msg("payment provider unreachable")
			return nil, apperrors.External("payment provider "+p.Name+" is unreachable", nil)
		}

		if rand.Float64() < p.DeclineRate {
			logger.Warn().Msg("payment declined by provider")
			return nil, apperrors.Payment("payment declined by " + p.Name)
		}
	}

	intent := &Intent{
		PaymentRef: "pi_" + uuid.New().String(),
		Provider:   p.ID,
		Status:     IntentStatusRequiresConfirmation,
		Amount:     amount,
		Currency:   currency,
		CreatedAt:  time.Now(),
	}

	logger.Info().
		Str("payment_ref", intent.PaymentRef).
		Str("status", intent.Status).
		Msg("payment intent created")

	return intent, nil
}
