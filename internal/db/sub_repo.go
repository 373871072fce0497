package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"guied/internal/types"
)

// SubscriptionRepo persists subscription rows and the payment ledger.
//
// Invariants:
//   - one subscription row per user_id (UNIQUE constraint); renewals update it
//     in place.
//   - a payment id is applied at most once, enforced by the primary key of
//     subscription_payments and claimed in the same statement as the upsert.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo.
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// applyPaymentSQL claims the payment id and upserts the subscription in one
// statement. When the claim conflicts, "claimed" is empty, the outer insert
// selects nothing and no row is returned. xmax = 0 distinguishes a fresh
// insert from the ON CONFLICT update.
const applyPaymentSQL = `
WITH claimed AS (
    INSERT INTO subscription_payments (payment_id, user_id, plan, processed_at)
    VALUES ($1::text, $2::uuid, $3::text, $4::timestamptz)
    ON CONFLICT (payment_id) DO NOTHING
    RETURNING payment_id
)
INSERT INTO subscriptions AS s (
    user_id, plan, status, started_at, expires_at,
    external_payment_id, external_reference, created_at, updated_at
)
SELECT $2::uuid, $3::text, 'active', $4::timestamptz, $5::timestamptz,
       claimed.payment_id, NULLIF($6::text, ''), $4::timestamptz, $4::timestamptz
FROM claimed
ON CONFLICT (user_id) DO UPDATE SET
    plan                = EXCLUDED.plan,
    status              = 'active',
    started_at          = EXCLUDED.started_at,
    expires_at          = EXCLUDED.expires_at,
    external_payment_id = EXCLUDED.external_payment_id,
    external_reference  = EXCLUDED.external_reference,
    updated_at          = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// ApplyPayment activates or renews the subscription for a.UserID unless
// a.PaymentID was already applied.
func (r *SubscriptionRepo) ApplyPayment(ctx context.Context, a types.Activation) (types.ApplyResult, error) {
	var inserted bool
	err := r.db.QueryRow(ctx, applyPaymentSQL,
		a.PaymentID,
		a.UserID,
		string(a.Plan),
		a.StartedAt,
		a.ExpiresAt,
		a.ExternalReference,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ApplyDuplicate, nil
		}
		return types.ApplyDuplicate, types.NewAppError(types.ErrCodeInternalDB, "failed to apply payment", err)
	}
	if inserted {
		return types.ApplyCreated, nil
	}
	return types.ApplyRenewed, nil
}

const subscriptionColumns = `
    id, user_id::text, plan, status, started_at, expires_at,
    COALESCE(external_payment_id, ''), COALESCE(external_reference, ''),
    created_at, updated_at`

// GetLatest returns the most recent subscription row for userID, or nil when
// there is none.
func (r *SubscriptionRepo) GetLatest(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var (
		s                types.Subscription
		plan, status     string
		started, expires *time.Time
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&plan,
		&status,
		&started,
		&expires,
		&s.ExternalPaymentID,
		&s.ExternalReference,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Plan = types.Plan(plan)
	s.Status = types.SubscriptionStatus(status)
	s.StartedAt = started
	s.ExpiresAt = expires
	return &s, nil
}

// CancelActive marks the user's active subscription canceled. It affects zero
// rows when nothing is active.
func (r *SubscriptionRepo) CancelActive(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		SET status = 'canceled', updated_at = now()
		WHERE user_id = $1 AND status = 'active'`,
		userID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByUser removes the user's subscription rows and clears the user id
// on their ledger rows. The ledger rows themselves stay: the payment id claim
// must outlive the account or a redelivered approved payment would recreate
// the subscription. The count returned is subscription rows only.
func (r *SubscriptionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`WITH ledger AS (
			UPDATE subscription_payments SET user_id = NULL WHERE user_id = $1
		)
		DELETE FROM subscriptions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete subscriber data", err)
	}
	return tag.RowsAffected(), nil
}
