package orders

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending to paid", StatusPendingPayment, StatusPaid, true},
		{"pending to cancelled", StatusPendingPayment, StatusCancelled, true},
		{"pending to shipped skips paid", StatusPendingPayment, StatusShipped, false},
		{"paid to processing", StatusPaid, StatusProcessing, true},
		{"paid to cancelled", StatusPaid, StatusCancelled, true},
		{"paid to delivered skips shipping", StatusPaid, StatusDelivered, false},
		{"processing to shipped", StatusProcessing, StatusShipped, true},
		{"processing to cancelled", StatusProcessing, StatusCancelled, true},
		{"shipped to delivered", StatusShipped, StatusDelivered, true},
		{"shipped cannot cancel", StatusShipped, StatusCancelled, false},
		{"delivered is terminal", StatusDelivered, StatusProcessing, false},
		{"cancelled is terminal", StatusCancelled, StatusPaid, false},
		{"no self transition", StatusPaid, StatusPaid, false},
		{"unknown source", "archived", StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StatusDelivered, StatusCancelled}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = false, want true", status)
		}
	}

	live := []string{StatusPendingPayment, StatusPaid, StatusProcessing, StatusShipped}
	for _, status := range live {
		if IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = true, want false", status)
		}
	}

	if IsTerminal("archived") {
		t.Error("unknown status must not be terminal")
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, status := range []string{
		StatusPendingPayment, StatusPaid, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled,
	} {
		if !IsValidStatus(status) {
			t.Errorf("IsValidStatus(%q) = false, want true", status)
		}
	}

	if IsValidStatus("archived") {
		t.Error("IsValidStatus accepted an unknown status")
	}
}
