package billing

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"guied/internal/types"
)

// PaymentProvider is the read side of the payment provider used on callback.
// Implementations return a *types.AppError with ErrCodeNotFoundPayment when
// the provider has no such resource.
type PaymentProvider interface {
	GetPayment(ctx context.Context, paymentID string) (*types.PaymentRecord, error)
	GetMerchantOrder(ctx context.Context, orderID string) (*types.MerchantOrder, error)
}

// PaymentFetcher resolves a parsed notification to the authoritative payment
// record. It performs at most two provider calls (order, then payment) and
// never retries; the provider's own redelivery covers transient failures.
type PaymentFetcher struct {
	provider PaymentProvider
	group    singleflight.Group
	logger   *slog.Logger
}

// NewPaymentFetcher creates a PaymentFetcher.
func NewPaymentFetcher(provider PaymentProvider, logger *slog.Logger) *PaymentFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentFetcher{provider: provider, logger: logger}
}

// Fetch returns the payment the notification points at. (nil, nil) means
// there is nothing to reconcile: an unrecognized notification, an order with
// no payments yet, or a resource the provider does not know.
//
// Concurrent fetches of the same payment id share one provider call.
func (f *PaymentFetcher) Fetch(ctx context.Context, n Notification) (*types.PaymentRecord, error) {
	paymentID, err := f.resolvePaymentID(ctx, n)
	if err != nil || paymentID == "" {
		return nil, err
	}

	// The shared call outlives the caller that started it; the provider
	// client's own timeout bounds it.
	v, err, shared := f.group.Do(paymentID, func() (any, error) {
		return f.provider.GetPayment(context.WithoutCancel(ctx), paymentID)
	})
	if err != nil {
		if isNotFound(err) {
			f.logger.InfoContext(ctx, "payment not found at provider", "payment_id", paymentID)
			return nil, nil
		}
		return nil, err
	}

	rec, _ := v.(*types.PaymentRecord)
	if rec == nil {
		return nil, nil
	}
	if shared {
		f.logger.DebugContext(ctx, "payment fetch shared with concurrent delivery", "payment_id", paymentID)
	}
	out := *rec
	return &out, nil
}

// resolvePaymentID walks the notification to a concrete payment id.
func (f *PaymentFetcher) resolvePaymentID(ctx context.Context, n Notification) (string, error) {
	switch n.Kind {
	case NotificationDirectPayment, NotificationFlatPaymentKey, NotificationTopLevelID:
		return n.PaymentID, nil

	case NotificationOrderPointer:
		order, err := f.provider.GetMerchantOrder(ctx, n.OrderID)
		if err != nil {
			if isNotFound(err) {
				f.logger.InfoContext(ctx, "merchant order not found at provider", "order_id", n.OrderID)
				return "", nil
			}
			return "", err
		}
		if order == nil || len(order.PaymentIDs) == 0 {
			f.logger.InfoContext(ctx, "merchant order has no payments yet", "order_id", n.OrderID)
			return "", nil
		}
		return order.PaymentIDs[0], nil

	default:
		return "", nil
	}
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundPayment
}
