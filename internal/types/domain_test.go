package types

import (
	"testing"
	"time"
)

func TestParsePaymentStatus(t *testing.T) {
	tests := map[string]PaymentStatus{
		"approved":     PaymentStatusApproved,
		"pending":      PaymentStatusPending,
		"rejected":     PaymentStatusRejected,
		"in_process":   PaymentStatusOther,
		"charged_back": PaymentStatusOther,
		"":             PaymentStatusOther,
	}
	for in, want := range tests {
		if got := ParsePaymentStatus(in); got != want {
			t.Errorf("ParsePaymentStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFreeEntitlement(t *testing.T) {
	e := FreeEntitlement(nil)
	if e.Status != SubStatusFree || e.Plan != PlanFree || e.ExpiresAt != nil {
		t.Errorf("unexpected free entitlement: %+v", e)
	}

	lapsed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e = FreeEntitlement(&lapsed)
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(lapsed) {
		t.Errorf("expected lapsed expiry to be surfaced, got %v", e.ExpiresAt)
	}
}
