package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"guied/internal/billing"
	"guied/internal/core"
	"guied/internal/types"
)

// maxWebhookBodySize bounds a provider notification.
const maxWebhookBodySize = 64 * 1024

// webhookAck is the body of every webhook response.
const webhookAck = "ok"

// NotificationProcessor runs fetch + reconcile for one notification.
type NotificationProcessor interface {
	Process(ctx context.Context, n billing.Notification) (billing.Outcome, error)
}

// NotificationPublisher hands a notification to the asynchronous worker.
type NotificationPublisher interface {
	Publish(ctx context.Context, msg types.ReconcileMessage) error
}

// SignatureVerifier authenticates the provider's x-signature header.
type SignatureVerifier interface {
	Verify(header, requestID, dataID string) error
}

// WebhookHandler receives Mercado Pago notifications. It acknowledges every
// delivery with 200 "ok"; failures are logged and left to the provider's
// redelivery or the queue's retry.
type WebhookHandler struct {
	processor NotificationProcessor
	publisher NotificationPublisher
	verifier  SignatureVerifier
	now       func() time.Time
	logger    *slog.Logger
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithPublisher switches the handler to asynchronous processing. A failed
// publish falls back to processing inline.
func WithPublisher(p NotificationPublisher) WebhookOption {
	return func(h *WebhookHandler) { h.publisher = p }
}

// WithSignatureVerifier enables x-signature verification. Notifications
// that fail it are acknowledged but not processed.
func WithSignatureVerifier(v SignatureVerifier) WebhookOption {
	return func(h *WebhookHandler) { h.verifier = v }
}

// WithWebhookClock overrides the receive timestamp source.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) { h.now = now }
}

// NewWebhookHandler creates a WebhookHandler that processes inline unless a
// publisher is configured.
func NewWebhookHandler(processor NotificationProcessor, logger *slog.Logger, opts ...WebhookOption) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebhookHandler{
		processor: processor,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts POST /webhook/mercadopago.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/mercadopago", h.Handle)
}

// Handle parses, optionally authenticates and dispatches the notification.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	defer core.Text(w, http.StatusOK, webhookAck)

	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		return
	}

	query := r.URL.Query()
	n := billing.ParseNotification(body, query)
	log := h.logger.With(
		"kind", n.Kind,
		"payment_id", n.PaymentID,
		"order_id", n.OrderID,
	)

	if h.verifier != nil {
		dataID := query.Get("data.id")
		if dataID == "" {
			dataID = firstNonEmpty(n.PaymentID, n.OrderID)
		}
		if err := h.verifier.Verify(r.Header.Get("X-Signature"), r.Header.Get("X-Request-Id"), dataID); err != nil {
			log.WarnContext(ctx, "webhook signature rejected", "error", err)
			return
		}
	}

	if !n.Recognized() {
		log.InfoContext(ctx, "unrecognized notification acknowledged", "topic", n.Topic)
		return
	}

	if h.publisher != nil {
		msg := n.Message(h.now(), types.GetRequestID(ctx))
		err := h.publisher.Publish(ctx, msg)
		if err == nil {
			log.InfoContext(ctx, "notification queued for reconciliation")
			return
		}
		log.WarnContext(ctx, "failed to queue notification, processing inline", "error", err)
	}

	outcome, err := h.processor.Process(ctx, n)
	if err != nil {
		log.ErrorContext(ctx, "notification processing failed", "outcome", outcome, "error", err)
		return
	}
	log.InfoContext(ctx, "notification processed", "outcome", outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
