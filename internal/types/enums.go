package types

// Plan identifies a subscription plan.
type Plan string

const (
	// PlanFree is reported for subscribers without a current entitlement.
	// It is never stored on a subscription row.
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanProPlus Plan = "pro_plus"
)

// SubscriptionStatus is the status reported for a subscriber.
// Only active and canceled are persisted; free is the implicit absence of a row.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusFree     SubscriptionStatus = "free"
)

// PaymentStatus is the provider-reported state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
	// PaymentStatusOther covers in_process, authorized, refunded, cancelled,
	// charged_back and anything the provider adds later.
	PaymentStatusOther PaymentStatus = "other"
)

// ParsePaymentStatus collapses provider status strings onto PaymentStatus.
func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(s) {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected:
		return PaymentStatus(s)
	default:
		return PaymentStatusOther
	}
}
