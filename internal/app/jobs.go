/**
 * @description
 * Scheduled job implementations for the subscription-service: the expiry
 * sweep, expiring-soon notices, add-on window deactivation, and the
 * duplicate-active reconciliation pass.
 *
 * Every job is idempotent and tolerates racing user-triggered transitions:
 * a sweep that loses a status race treats the conflict as a no-op and moves
 * on to the next row.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/homevia/subscription-service/internal/domain"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo             Repository
	publisher        Publisher
	cache            EntitlementCache
	logger           *slog.Logger
	expiringSoonDays int
	now              func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, publisher Publisher, cache EntitlementCache, logger *slog.Logger, expiringSoonDays int) *Jobs {
	if expiringSoonDays <= 0 {
		expiringSoonDays = 7
	}
	return &Jobs{
		repo:             repo,
		publisher:        publisher,
		cache:            cache,
		logger:           logger,
		expiringSoonDays: expiringSoonDays,
		now:              time.Now,
	}
}

// ExpireDueSubscriptions transitions active subscriptions whose period has
// lapsed to expired and emits an expired event per row. Cancelled
// subscriptions stay cancelled; the sweep's WHERE clause never matches them.
func (j *Jobs) ExpireDueSubscriptions() {
	j.logger.Info("starting subscription expiry sweep")
	ctx := context.Background()
	now := j.now()

	expired, err := j.repo.ExpireDue(ctx, now)
	if err != nil {
		j.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if len(expired) == 0 {
		j.logger.Info("no subscriptions due for expiry")
		return
	}

	for _, sub := range expired {
		j.invalidate(ctx, sub.UserID)
		j.publish(ctx, domain.RoutingKeyExpired, domain.SubscriptionExpiredEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			ExpiredAt:      now,
		})
	}
	j.logger.Info("expiry sweep finished", "expired", len(expired))
}

// NotifyExpiringSoon emits a reminder event for every active subscription
// ending inside the configured window. The notification system decides what
// to send and how often; this job only reports the facts.
func (j *Jobs) NotifyExpiringSoon() {
	j.logger.Info("starting expiring-soon notice job")
	ctx := context.Background()
	now := j.now()
	windowEnd := now.AddDate(0, 0, j.expiringSoonDays)

	subs, err := j.repo.ListExpiringBetween(ctx, now, windowEnd)
	if err != nil {
		j.logger.Error("failed to list expiring subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		j.publish(ctx, domain.RoutingKeyExpiringSoon, domain.SubscriptionExpiringSoonEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			EndDate:        sub.EndDate,
			DaysRemaining:  sub.DaysRemaining(now),
			AutoRenew:      sub.AutoRenew,
		})
	}
	j.logger.Info("expiring-soon notice job finished", "notified", len(subs))
}

// DeactivateLapsedAddons flips IsActive off for add-on windows whose expiry
// has passed. IsActive is the only per-add-on field that ever changes after
// attachment.
func (j *Jobs) DeactivateLapsedAddons() {
	j.logger.Info("starting add-on deactivation sweep")
	ctx := context.Background()
	now := j.now()

	subs, err := j.repo.ListWithLapsedAddons(ctx, now)
	if err != nil {
		j.logger.Error("failed to list subscriptions with lapsed add-ons", "error", err)
		return
	}

	var updated int
	for _, sub := range subs {
		changed := false
		details := make([]domain.AddonDetail, len(sub.AddonDetails))
		copy(details, sub.AddonDetails)
		for i := range details {
			d := &details[i]
			if d.IsActive && d.ExpiryDate != nil && !d.ExpiryDate.After(now) {
				d.IsActive = false
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := j.repo.UpdateAddonActivity(ctx, sub.ID, details); err != nil {
			j.logger.Error("failed to deactivate lapsed add-ons", "subscription_id", sub.ID, "error", err)
			continue
		}
		j.invalidate(ctx, sub.UserID)
		updated++
	}
	j.logger.Info("add-on deactivation sweep finished", "updated", updated)
}

// ReconcileDuplicateActives repairs the "more than one active subscription
// per user" anomaly: for each affected user, the most recently created active
// subscription is kept and the rest are cancelled. Creation deliberately does
// not prevent duplicates, because activation is driven by payment webhooks
// that must not bounce money already taken.
func (j *Jobs) ReconcileDuplicateActives() {
	j.logger.Info("starting duplicate-active reconciliation")
	ctx := context.Background()
	now := j.now()

	userIDs, err := j.repo.ListDuplicateActiveUserIDs(ctx)
	if err != nil {
		j.logger.Error("failed to list users with duplicate active subscriptions", "error", err)
		return
	}
	if len(userIDs) == 0 {
		j.logger.Info("no duplicate active subscriptions found")
		return
	}

	var cancelled int
	for _, userID := range userIDs {
		subs, err := j.repo.ListActiveByUserID(ctx, userID)
		if err != nil {
			j.logger.Error("failed to list active subscriptions", "user_id", userID, "error", err)
			continue
		}
		if len(subs) < 2 {
			continue
		}
		// subs is newest first; everything after the head is a duplicate.
		for i := 1; i < len(subs); i++ {
			dup := subs[i]
			cancelledAt := now
			dup.Status = domain.StatusCancelled
			dup.AutoRenew = false
			dup.NextBillingDate = nil
			dup.CancellationReason = "superseded by a newer active subscription"
			dup.CancelledAt = &cancelledAt

			err := j.repo.UpdateGuarded(ctx, &dup, domain.StatusActive)
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			if err != nil {
				j.logger.Error("failed to cancel duplicate subscription",
					"subscription_id", dup.ID, "user_id", userID, "error", err)
				continue
			}
			j.publish(ctx, domain.RoutingKeyCancelled, domain.SubscriptionCancelledEvent{
				SubscriptionID: dup.ID,
				UserID:         userID,
				Reason:         dup.CancellationReason,
				CancelledAt:    now,
			})
			cancelled++
		}
		j.invalidate(ctx, userID)
	}
	j.logger.Info("duplicate-active reconciliation finished", "users", len(userIDs), "cancelled", cancelled)
}

func (j *Jobs) publish(ctx context.Context, routingKey string, body interface{}) {
	if j.publisher == nil {
		return
	}
	if err := j.publisher.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		j.logger.Error("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

func (j *Jobs) invalidate(ctx context.Context, userID string) {
	if j.cache == nil {
		return
	}
	if err := j.cache.Invalidate(ctx, userID); err != nil {
		j.logger.Warn("failed to invalidate entitlement cache", "user_id", userID, "error", err)
	}
}
