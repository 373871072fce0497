package billing

import (
	"context"
	"log/slog"

	"guied/internal/types"
)

// NotificationFetcher resolves a notification to a payment record.
// (nil, nil) means there is nothing to reconcile.
type NotificationFetcher interface {
	Fetch(ctx context.Context, n Notification) (*types.PaymentRecord, error)
}

// PaymentReconciler applies one payment record to the subscription store.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, rec *types.PaymentRecord) (Outcome, error)
}

// Processor is the fetch-then-reconcile pipeline shared by the inline
// webhook path, the queue worker and the operator replay command.
type Processor struct {
	fetcher    NotificationFetcher
	reconciler PaymentReconciler
	metrics    OutcomeRecorder
	logger     *slog.Logger
}

// NewProcessor creates a Processor. metrics may be nil; it only receives
// fetch failures, since the reconciler records every other outcome.
func NewProcessor(fetcher NotificationFetcher, reconciler PaymentReconciler, metrics OutcomeRecorder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{fetcher: fetcher, reconciler: reconciler, metrics: metrics, logger: logger}
}

// Process fetches and reconciles the payment n points at. An error means
// the attempt should be retried: the provider or the store failed.
func (p *Processor) Process(ctx context.Context, n Notification) (Outcome, error) {
	if !n.Recognized() {
		p.logger.DebugContext(ctx, "unrecognized notification, nothing to fetch", "topic", n.Topic)
		return OutcomeNoPayment, nil
	}

	rec, err := p.fetcher.Fetch(ctx, n)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to fetch payment",
			"kind", n.Kind,
			"payment_id", n.PaymentID,
			"order_id", n.OrderID,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.RecordReconcile(ctx, OutcomeFailed)
		}
		return OutcomeFailed, err
	}

	return p.reconciler.Reconcile(ctx, rec)
}

// ProcessPayment replays a single payment id, as the operator CLI does.
func (p *Processor) ProcessPayment(ctx context.Context, paymentID string) (Outcome, error) {
	return p.Process(ctx, Notification{Kind: NotificationDirectPayment, PaymentID: paymentID})
}
