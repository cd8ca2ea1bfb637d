package types

import (
	"time"

	"gorm.io/gorm"
)

type Order struct {
	gorm.Model    `json:"-"`
	OrderNumber   string  `gorm:"uniqueIndex" json:"order_number"`
	CustomerID    string  `gorm:"index" json:"customer_id"`
	Status        string  `json:"status"`         // pending_payment, paid, processing, shipped, delivered, cancelled
	PaymentStatus string  `json:"payment_status"` // pending, paid, failed
	PaymentRef    string  `gorm:"index" json:"payment_ref"`
	Provider      string  `json:"provider"` // stripe or paypal
	TotalAmount   float64 `json:"total_amount"`
	Currency      string  `json:"currency"`

	// Shipping address snapshot, frozen at checkout. Deliberately not a
	// reference to a live address-book record.
	ShippingName     string `json:"shipping_name"`
	ShippingLine1    string `json:"shipping_line1"`
	ShippingCity     string `json:"shipping_city"`
	ShippingPostcode string `json:"shipping_postcode"`
	ShippingCountry  string `json:"shipping_country"`

	Items           []OrderItem     `gorm:"foreignKey:OrderNumber;references:OrderNumber" json:"items"`
	TrackingHistory []TrackingEntry `gorm:"foreignKey:OrderNumber;references:OrderNumber" json:"tracking_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItem struct {
	gorm.Model  `json:"-"`
	OrderNumber string  `gorm:"index" json:"order_number"`
	ProductRef  string  `json:"product_ref"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price_at_purchase"`
}

// TrackingEntry is one line of an order's append-only status history.
// Entries are never edited or removed once written.
type TrackingEntry struct {
	gorm.Model  `json:"-"`
	OrderNumber string    `gorm:"index" json:"order_number"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"timestamp"`
}

// CreateOrderRequest is the checkout payload submitted by the storefront.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items"`
	Currency        string             `json:"currency"`
	Provider        string             `json:"provider"`
	ShippingAddress AddressRequest     `json:"shipping_address"`
}

type OrderItemRequest struct {
	ProductRef string  `json:"product_ref"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
}

type AddressRequest struct {
	Name     string `json:"name"`
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

// UpdateOrderStatusRequest is the admin transition payload.
type UpdateOrderStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}
