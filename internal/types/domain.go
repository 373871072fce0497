package types

import "time"

// Subscription is the persisted subscription row for a subscriber.
// There is at most one row per subscriber; renewals overwrite it in place.
type Subscription struct {
	ID                int64              `json:"-"`
	UserID            string             `json:"user_id"`
	Plan              Plan               `json:"plan"`
	Status            SubscriptionStatus `json:"status"`
	StartedAt         *time.Time         `json:"started_at"`
	ExpiresAt         *time.Time         `json:"expires_at"`
	ExternalPaymentID string             `json:"external_payment_id,omitempty"`
	ExternalReference string             `json:"external_reference,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// PaymentRecord is the authoritative payment state fetched from the provider.
// It is never persisted as-is.
type PaymentRecord struct {
	ID                string
	Status            PaymentStatus
	RawStatus         string
	ExternalReference string
	// Metadata holds the structured key/value channel (user_id, plan) when
	// the provider delivered it.
	Metadata map[string]string
	OrderID  string
}

// Activation is the mutation the reconciliation engine asks the store to
// apply for one approved payment.
type Activation struct {
	UserID            string
	Plan              Plan
	PaymentID         string
	ExternalReference string
	StartedAt         time.Time
	ExpiresAt         time.Time
}

// ApplyResult reports what the store did with an Activation.
type ApplyResult int

const (
	// ApplyDuplicate means the payment id was already claimed; nothing changed.
	ApplyDuplicate ApplyResult = iota
	ApplyCreated
	ApplyRenewed
)

// Entitlement is the answer to a status query.
type Entitlement struct {
	Status    SubscriptionStatus `json:"status"`
	Plan      Plan               `json:"plan"`
	ExpiresAt *time.Time         `json:"expires_at"`
}

// FreeEntitlement returns the non-entitled answer, optionally surfacing a
// lapsed expiry for diagnostics.
func FreeEntitlement(expiresAt *time.Time) Entitlement {
	return Entitlement{Status: SubStatusFree, Plan: PlanFree, ExpiresAt: expiresAt}
}

// MerchantOrder is the provider's aggregate order resource. Only the fields
// needed to reach a payment are kept.
type MerchantOrder struct {
	ID                string
	PaymentIDs        []string
	ExternalReference string
}
