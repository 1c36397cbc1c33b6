/**
 * @description
 * This file implements the data access layer for the subscription-service.
 * It contains all the SQL queries and logic for interacting with the database.
 *
 * Subscriptions are stored one row per purchase event. Snapshot, add-on and
 * payment-history structures live in jsonb columns; lookups the rest of the
 * system needs are served by indexes on (user_id, status) and (end_date).
 *
 * Lifecycle writes go through a conditional update keyed on the expected
 * prior status, so two racing transitions cannot both land: the loser's
 * update matches zero rows and is reported as domain.ErrConflict.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homevia/subscription-service/internal/domain"
)

// Repository handles database operations for subscriptions.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `
    id, user_id, plan_id, plan_snapshot, addon_ids, addon_details, addons_snapshot,
    status, start_date, end_date, amount, currency, payment_method, transaction_id,
    auto_renew, renewal_attempts, last_payment_date, next_billing_date,
    cancellation_reason, cancelled_at, payment_history, created_at, updated_at`

// Create inserts a new subscription row.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscription) error {
	planSnapshot, addonDetails, addonsSnapshot, history, err := marshalJSONColumns(sub)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO subscriptions (
            id, user_id, plan_id, plan_snapshot, addon_ids, addon_details, addons_snapshot,
            status, start_date, end_date, amount, currency, payment_method, transaction_id,
            auto_renew, renewal_attempts, last_payment_date, next_billing_date,
            cancellation_reason, cancelled_at, payment_history
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''),
            $15, $16, $17, $18, $19, $20, $21
        )
        RETURNING created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, planSnapshot, sub.AddonIDs, addonDetails, addonsSnapshot,
		sub.Status, sub.StartDate, sub.EndDate, sub.Amount, sub.Currency, sub.PaymentMethod, sub.TransactionID,
		sub.AutoRenew, sub.RenewalAttempts, sub.LastPaymentDate, sub.NextBillingDate,
		sub.CancellationReason, sub.CancelledAt, history,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// GetByID retrieves a subscription by its id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindActiveByUserID returns the most recently created subscription that is
// active and unexpired for the user, or domain.ErrSubscriptionNotFound.
func (r *Repository) FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status = 'active' AND end_date > NOW()
        ORDER BY created_at DESC
        LIMIT 1
    `
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListActiveByUserID returns every active, unexpired subscription for a user,
// newest first. Normally at most one; the reconciliation sweep uses this to
// find and repair duplicates.
func (r *Repository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status = 'active' AND end_date > NOW()
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListByUserID returns the user's full subscription history, newest first.
func (r *Repository) ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateGuarded persists the subscription's mutable fields, but only if the
// stored row is still in one of the allowed prior statuses and has not been
// written since the caller read it; updated_at is the optimistic token. The
// token matters for transitions whose source and target status coincide
// (renew on active, add-on purchase): status alone would let two such writers
// both pass, and the second would clobber the first's payment-ledger append.
// A zero-row match is reported as ErrConflict.
func (r *Repository) UpdateGuarded(ctx context.Context, sub *domain.Subscription, allowedPrior ...domain.SubscriptionStatus) error {
	if len(allowedPrior) == 0 {
		return fmt.Errorf("update guard requires at least one allowed prior status")
	}
	planSnapshot, addonDetails, addonsSnapshot, history, err := marshalJSONColumns(sub)
	if err != nil {
		return err
	}

	statuses := make([]string, len(allowedPrior))
	for i, s := range allowedPrior {
		statuses[i] = string(s)
	}

	query := `
        UPDATE subscriptions SET
            plan_snapshot = $2,
            addon_ids = $3,
            addon_details = $4,
            addons_snapshot = $5,
            status = $6,
            start_date = $7,
            end_date = $8,
            transaction_id = NULLIF($9, ''),
            auto_renew = $10,
            renewal_attempts = $11,
            last_payment_date = $12,
            next_billing_date = $13,
            cancellation_reason = $14,
            cancelled_at = $15,
            payment_history = $16,
            updated_at = NOW()
        WHERE id = $1 AND status = ANY($17) AND updated_at = $18
    `
	tag, err := r.db.Exec(ctx, query,
		sub.ID, planSnapshot, sub.AddonIDs, addonDetails, addonsSnapshot,
		sub.Status, sub.StartDate, sub.EndDate, sub.TransactionID,
		sub.AutoRenew, sub.RenewalAttempts, sub.LastPaymentDate, sub.NextBillingDate,
		sub.CancellationReason, sub.CancelledAt, history, statuses, sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ExpireDue transitions every active subscription whose period has lapsed to
// expired and reports the affected rows. Cancelled rows are never touched, and
// re-running the sweep matches nothing, so it is idempotent.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET status = 'expired', updated_at = NOW()
        WHERE status = 'active' AND end_date <= $1
        RETURNING ` + subscriptionColumns
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListExpiringBetween returns active subscriptions whose period ends inside
// the window, used for expiring-soon notices.
func (r *Repository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active' AND end_date > $1 AND end_date <= $2
        ORDER BY end_date
    `
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListWithLapsedAddons returns subscriptions carrying at least one add-on that
// is still flagged active but whose expiry date has passed.
func (r *Repository) ListWithLapsedAddons(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE EXISTS (
            SELECT 1 FROM jsonb_array_elements(addon_details) AS d
            WHERE (d->>'is_active')::boolean
              AND d->>'expiry_date' IS NOT NULL
              AND (d->>'expiry_date')::timestamptz <= $1
        )
    `
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateAddonActivity persists only the mutable per-add-on activity flags.
func (r *Repository) UpdateAddonActivity(ctx context.Context, id string, details []domain.AddonDetail) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal addon details: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET addon_details = $2, updated_at = NOW() WHERE id = $1`,
		id, payload,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ListDuplicateActiveUserIDs returns the ids of users holding more than one
// active, unexpired subscription.
func (r *Repository) ListDuplicateActiveUserIDs(ctx context.Context) ([]string, error) {
	query := `
        SELECT user_id
        FROM subscriptions
        WHERE status = 'active' AND end_date > NOW()
        GROUP BY user_id
        HAVING COUNT(*) > 1
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

func marshalJSONColumns(sub *domain.Subscription) (planSnapshot, addonDetails, addonsSnapshot, history []byte, err error) {
	if sub.PlanSnapshot != nil {
		planSnapshot, err = json.Marshal(sub.PlanSnapshot)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal plan snapshot: %w", err)
		}
	}
	addonDetails, err = json.Marshal(sub.AddonDetails)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal addon details: %w", err)
	}
	addonsSnapshot, err = json.Marshal(sub.AddonsSnapshot)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal addons snapshot: %w", err)
	}
	history, err = json.Marshal(sub.PaymentHistory)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal payment history: %w", err)
	}
	return planSnapshot, addonDetails, addonsSnapshot, history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	var planSnapshot, addonDetails, addonsSnapshot, history []byte
	var transactionID *string

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &planSnapshot, &sub.AddonIDs, &addonDetails, &addonsSnapshot,
		&sub.Status, &sub.StartDate, &sub.EndDate, &sub.Amount, &sub.Currency, &sub.PaymentMethod, &transactionID,
		&sub.AutoRenew, &sub.RenewalAttempts, &sub.LastPaymentDate, &sub.NextBillingDate,
		&sub.CancellationReason, &sub.CancelledAt, &history, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transactionID != nil {
		sub.TransactionID = *transactionID
	}

	if len(planSnapshot) > 0 {
		sub.PlanSnapshot = &domain.PlanSnapshot{}
		if err := json.Unmarshal(planSnapshot, sub.PlanSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal plan snapshot: %w", err)
		}
	}
	if len(addonDetails) > 0 {
		if err := json.Unmarshal(addonDetails, &sub.AddonDetails); err != nil {
			return nil, fmt.Errorf("unmarshal addon details: %w", err)
		}
	}
	if len(addonsSnapshot) > 0 {
		if err := json.Unmarshal(addonsSnapshot, &sub.AddonsSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal addons snapshot: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &sub.PaymentHistory); err != nil {
			return nil, fmt.Errorf("unmarshal payment history: %w", err)
		}
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
