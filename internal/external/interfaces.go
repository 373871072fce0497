package external

import (
	"context"

	"guied/internal/types"
)

// CheckoutProvider creates hosted checkout sessions.
type CheckoutProvider interface {
	CreatePreference(ctx context.Context, in PreferenceRequest) (*Preference, error)
}

// PaymentReader is the read side used to resolve webhook notifications.
type PaymentReader interface {
	GetPayment(ctx context.Context, paymentID string) (*types.PaymentRecord, error)
	GetMerchantOrder(ctx context.Context, orderID string) (*types.MerchantOrder, error)
}

// WebhookVerifier authenticates a provider callback.
type WebhookVerifier interface {
	Verify(header, requestID, dataID string) error
}

// IdentityAdmin deletes accounts at the identity provider.
type IdentityAdmin interface {
	DeleteUser(ctx context.Context, userID string) error
}

var (
	_ CheckoutProvider = (*MercadoPagoClient)(nil)
	_ PaymentReader    = (*MercadoPagoClient)(nil)
	_ WebhookVerifier  = (*MercadoPagoSignatureVerifier)(nil)
	_ IdentityAdmin    = (*SupabaseAdminClient)(nil)
)
