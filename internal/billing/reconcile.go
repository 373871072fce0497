package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"guied/internal/types"
)

// RenewalDays is the fixed length of one paid period.
const RenewalDays = 30

// Outcome is the result of reconciling one payment record.
type Outcome string

const (
	OutcomeNoPayment                Outcome = "ignored_no_payment"
	OutcomeIgnoredNotApproved       Outcome = "ignored_not_approved"
	OutcomeIgnoredInvalidSubscriber Outcome = "ignored_invalid_subscriber"
	OutcomeDuplicate                Outcome = "duplicate"
	OutcomeCreated                  Outcome = "created"
	OutcomeRenewed                  Outcome = "renewed"
	OutcomeFailed                   Outcome = "failed"
)

// Mutated reports whether the outcome changed the subscription store.
func (o Outcome) Mutated() bool {
	return o == OutcomeCreated || o == OutcomeRenewed
}

// SubscriptionWriter applies an activation atomically: the payment id claim
// and the subscription upsert either both happen or neither does.
type SubscriptionWriter interface {
	ApplyPayment(ctx context.Context, a types.Activation) (types.ApplyResult, error)
}

// EntitlementInvalidator drops cached entitlement answers for a subscriber.
type EntitlementInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// OutcomeRecorder receives one call per reconciliation.
type OutcomeRecorder interface {
	RecordReconcile(ctx context.Context, outcome Outcome)
}

// Reconciler turns approved payment records into subscription state.
type Reconciler struct {
	store   SubscriptionWriter
	cache   EntitlementInvalidator
	metrics OutcomeRecorder
	now     func() time.Time
	logger  *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source used for started_at/expires_at.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithInvalidator sets the cache to invalidate after a mutation.
func WithInvalidator(c EntitlementInvalidator) ReconcilerOption {
	return func(r *Reconciler) { r.cache = c }
}

// WithOutcomeRecorder sets the metrics sink.
func WithOutcomeRecorder(m OutcomeRecorder) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler creates a Reconciler.
func NewReconciler(store SubscriptionWriter, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies one payment record. Non-approved payments and payments
// that cannot be attributed to a valid subscriber are ignored without error.
// An error is returned only when the store fails.
func (r *Reconciler) Reconcile(ctx context.Context, rec *types.PaymentRecord) (Outcome, error) {
	outcome, err := r.reconcile(ctx, rec)
	if r.metrics != nil {
		r.metrics.RecordReconcile(ctx, outcome)
	}
	return outcome, err
}

func (r *Reconciler) reconcile(ctx context.Context, rec *types.PaymentRecord) (Outcome, error) {
	if rec == nil {
		return OutcomeNoPayment, nil
	}
	log := r.logger.With("payment_id", rec.ID)

	if rec.Status != types.PaymentStatusApproved {
		log.InfoContext(ctx, "payment not approved, ignoring", "status", rec.RawStatus)
		return OutcomeIgnoredNotApproved, nil
	}

	userID, plan := ResolveSubscriber(rec)
	if !ValidSubscriberID(userID) {
		log.WarnContext(ctx, "approved payment without a valid subscriber, ignoring",
			"external_reference", rec.ExternalReference)
		return OutcomeIgnoredInvalidSubscriber, nil
	}

	startedAt := r.now().UTC()
	activation := types.Activation{
		UserID:            userID,
		Plan:              plan,
		PaymentID:         rec.ID,
		ExternalReference: rec.ExternalReference,
		StartedAt:         startedAt,
		ExpiresAt:         startedAt.AddDate(0, 0, RenewalDays),
	}

	result, err := r.store.ApplyPayment(ctx, activation)
	if err != nil {
		log.ErrorContext(ctx, "failed to apply payment", "user_id", userID, "error", err)
		return OutcomeFailed, err
	}

	var outcome Outcome
	switch result {
	case types.ApplyCreated:
		outcome = OutcomeCreated
	case types.ApplyRenewed:
		outcome = OutcomeRenewed
	default:
		log.InfoContext(ctx, "payment already processed", "user_id", userID)
		return OutcomeDuplicate, nil
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, userID); err != nil {
			log.WarnContext(ctx, "failed to invalidate entitlement cache", "user_id", userID, "error", err)
		}
	}

	log.InfoContext(ctx, "subscription activated",
		"user_id", userID,
		"plan", plan,
		"outcome", outcome,
		"expires_at", activation.ExpiresAt,
	)
	return outcome, nil
}

// ResolveSubscriber extracts (subscriber, plan) from a payment record.
// Structured metadata wins per field; the reference token fills whatever the
// metadata left out. The plan falls back to DefaultPlan.
func ResolveSubscriber(rec *types.PaymentRecord) (string, types.Plan) {
	userID := strings.TrimSpace(rec.Metadata["user_id"])
	rawPlan := strings.TrimSpace(rec.Metadata["plan"])

	if userID == "" || rawPlan == "" {
		refSub, refPlan, ok := DecodeReference(rec.ExternalReference)
		if ok {
			if userID == "" {
				userID = refSub
			}
			if rawPlan == "" {
				rawPlan = refPlan
			}
		}
	}
	return CanonicalSubscriberID(userID), NormalizePlan(rawPlan)
}
