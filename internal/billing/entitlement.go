package billing

import (
	"context"
	"log/slog"
	"time"

	"guied/internal/types"
)

// SubscriptionStore is the read/cancel/erase side of subscription storage.
type SubscriptionStore interface {
	// GetLatest returns the most recent row for the subscriber, or nil.
	GetLatest(ctx context.Context, userID string) (*types.Subscription, error)
	// CancelActive flips active rows to canceled and returns rows affected.
	CancelActive(ctx context.Context, userID string) (int64, error)
	// DeleteByUser removes subscription rows and detaches the subscriber
	// from payment ledger rows, which are kept for dedup.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// EntitlementCache is a read-through cache of status answers. Get also
// returns the subscriber's invalidation generation; Set must be given the
// generation observed before the store read so that an answer loaded before
// a concurrent Invalidate is never served.
type EntitlementCache interface {
	Get(ctx context.Context, userID string) (*types.Entitlement, int64, error)
	Set(ctx context.Context, userID string, gen int64, e types.Entitlement) error
	Invalidate(ctx context.Context, userID string) error
}

// IdentityEraser deletes the subscriber from the identity provider.
type IdentityEraser interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Resolver answers entitlement queries and applies subscriber-initiated
// cancellation and erasure.
type Resolver struct {
	store  SubscriptionStore
	cache  EntitlementCache
	eraser IdentityEraser
	now    func() time.Time
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEntitlementCache enables read-through caching of status answers.
func WithEntitlementCache(c EntitlementCache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithIdentityEraser sets the identity provider used by Erase.
func WithIdentityEraser(e IdentityEraser) ResolverOption {
	return func(r *Resolver) { r.eraser = e }
}

// WithResolverClock overrides the time source used for lapse checks.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver.
func NewResolver(store SubscriptionStore, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func invalidSubscriber() *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidUserID, "user_id must be a valid UUID", nil)
}

// Status returns the subscriber's current entitlement. A subscriber is
// entitled only while the latest row is active and not yet expired.
func (r *Resolver) Status(ctx context.Context, userID string) (types.Entitlement, error) {
	if !ValidSubscriberID(userID) {
		return types.Entitlement{}, invalidSubscriber()
	}
	userID = CanonicalSubscriberID(userID)

	var (
		gen       int64
		cacheable bool
	)
	if r.cache != nil {
		cached, g, err := r.cache.Get(ctx, userID)
		if err != nil {
			r.logger.WarnContext(ctx, "entitlement cache read failed", "user_id", userID, "error", err)
		} else if cached != nil {
			return r.recheck(*cached), nil
		} else {
			gen, cacheable = g, true
		}
	}

	sub, err := r.store.GetLatest(ctx, userID)
	if err != nil {
		return types.Entitlement{}, err
	}
	ent := r.evaluate(sub)

	if cacheable {
		if err := r.cache.Set(ctx, userID, gen, ent); err != nil {
			r.logger.WarnContext(ctx, "entitlement cache write failed", "user_id", userID, "error", err)
		}
	}
	return ent, nil
}

func (r *Resolver) evaluate(sub *types.Subscription) types.Entitlement {
	if sub == nil {
		return types.FreeEntitlement(nil)
	}
	if sub.Status == types.SubStatusActive && sub.ExpiresAt != nil && sub.ExpiresAt.After(r.now()) {
		return types.Entitlement{Status: sub.Status, Plan: sub.Plan, ExpiresAt: sub.ExpiresAt}
	}
	return types.FreeEntitlement(sub.ExpiresAt)
}

// recheck re-applies the lapse rule to a cached answer, which may have been
// stored just before expiry.
func (r *Resolver) recheck(e types.Entitlement) types.Entitlement {
	if e.Status == types.SubStatusActive && (e.ExpiresAt == nil || !e.ExpiresAt.After(r.now())) {
		return types.FreeEntitlement(e.ExpiresAt)
	}
	return e
}

// Cancel marks the subscriber's active rows canceled. Having nothing to
// cancel is not an error.
func (r *Resolver) Cancel(ctx context.Context, userID string) error {
	if !ValidSubscriberID(userID) {
		return invalidSubscriber()
	}
	userID = CanonicalSubscriberID(userID)
	n, err := r.store.CancelActive(ctx, userID)
	if err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	r.logger.InfoContext(ctx, "subscription cancel requested", "user_id", userID, "rows_affected", n)
	return nil
}

// Erase removes every trace of the subscriber: local rows first, then the
// identity provider account.
func (r *Resolver) Erase(ctx context.Context, userID string) error {
	if !ValidSubscriberID(userID) {
		return invalidSubscriber()
	}
	userID = CanonicalSubscriberID(userID)
	n, err := r.store.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	r.invalidate(ctx, userID)

	if r.eraser == nil {
		r.logger.WarnContext(ctx, "no identity eraser configured, local data only", "user_id", userID)
		return nil
	}
	if err := r.eraser.DeleteUser(ctx, userID); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "account erased", "user_id", userID, "rows_deleted", n)
	return nil
}

func (r *Resolver) invalidate(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.logger.WarnContext(ctx, "failed to invalidate entitlement cache", "user_id", userID, "error", err)
	}
}
