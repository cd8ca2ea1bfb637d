package orders

// Order statuses
const (
	StatusPendingPayment = "pending_payment"
	StatusPaid           = "paid"
	StatusProcessing     = "processing"
	StatusShipped        = "shipped"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// transitions is the permitted edge set of the order state machine.
// Cancellation is reachable up to and including processing; once an order
// ships it can only be delivered. delivered and cancelled are terminal.
var transitions = map[string][]string{
	StatusPendingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:           {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusDelivered},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// IsValidStatus reports whether status names a known order state.
func IsValidStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

// CanTransition reports whether the edge from -> to is permitted.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0 && IsValidStatus(status)
}
