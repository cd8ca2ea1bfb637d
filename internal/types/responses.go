package types

import "time"

// OrderResponse is the order snapshot returned by the API, including the
// full tracking history in chronological order.
type OrderResponse struct {
	OrderNumber     string                  `json:"order_number"`
	Status          string                  `json:"status"`
	PaymentStatus   string                  `json:"payment_status"`
	TotalAmount     float64                 `json:"total_amount"`
	Currency        string                  `json:"currency"`
	Items           []OrderItemResponse     `json:"items"`
	ShippingAddress AddressResponse         `json:"shipping_address"`
	TrackingHistory []TrackingEntryResponse `json:"tracking_history"`
	CreatedAt       time.Time               `json:"created_at"`
}

type OrderItemResponse struct {
	ProductRef string  `json:"product_ref"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price_at_purchase"`
}

type AddressResponse struct {
	Name     string `json:"name"`
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

type TrackingEntryResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderResponse maps a stored order to its API shape.
func NewOrderResponse(order *Order) *OrderResponse {
	resp := &OrderResponse{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		ShippingAddress: AddressResponse{
			Name:     order.ShippingName,
			Line1:    order.ShippingLine1,
			City:     order.ShippingCity,
			Postcode: order.ShippingPostcode,
			Country:  order.ShippingCountry,
		},
		CreatedAt: order.CreatedAt,
	}

	for _, item := range order.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}

	for _, entry := range order.TrackingHistory {
		resp.TrackingHistory = append(resp.TrackingHistory, TrackingEntryResponse{
			Status:    entry.Status,
			Message:   entry.Message,
			Timestamp: entry.CreatedAt,
		})
	}

	return resp
}
