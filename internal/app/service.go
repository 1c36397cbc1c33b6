/**
 * @description
 * This file contains the core business logic for the subscription service:
 * the lifecycle state machine (pending -> active -> expired/cancelled),
 * renewal, cancellation, add-on attachment, and the entitlement read path.
 *
 * Every mutating operation follows the same shape: read the subscription,
 * validate the transition against its current status, build the new state in
 * memory (including exactly one payment-ledger entry), then persist through a
 * conditional update guarded on the prior status. Losing that guard means a
 * concurrent transition landed first; the caller gets domain.ErrConflict and
 * must not retry blindly.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/homevia/subscription-service/internal/domain"
)

// Repository defines the database operations the service and jobs need.
type Repository interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	FindActiveByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.Subscription, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.Subscription, error)
	UpdateGuarded(ctx context.Context, sub *domain.Subscription, allowedPrior ...domain.SubscriptionStatus) error
	ExpireDue(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error)
	ListWithLapsedAddons(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	UpdateAddonActivity(ctx context.Context, id string, details []domain.AddonDetail) error
	ListDuplicateActiveUserIDs(ctx context.Context) ([]string, error)
}

// CatalogClient defines the read interface to the external plan/add-on catalog.
type CatalogClient interface {
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
	GetAddon(ctx context.Context, addonID string) (*domain.Addon, error)
}

// Publisher defines the interface for emitting lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EntitlementCache caches resolved entitlement sets per user.
type EntitlementCache interface {
	Get(ctx context.Context, userID string) (domain.EntitlementSet, bool)
	Set(ctx context.Context, userID string, set domain.EntitlementSet) error
	Invalidate(ctx context.Context, userID string) error
}

// Service provides the business logic for subscription management.
type Service struct {
	repo               Repository
	catalog            CatalogClient
	publisher          Publisher
	cache              EntitlementCache
	logger             *slog.Logger
	defaultBillingDays int
	now                func() time.Time
}

// NewService creates a new subscription service.
func NewService(repo Repository, catalog CatalogClient, publisher Publisher, cache EntitlementCache, logger *slog.Logger, defaultBillingDays int) *Service {
	if defaultBillingDays <= 0 {
		defaultBillingDays = 30
	}
	return &Service{
		repo:               repo,
		catalog:            catalog,
		publisher:          publisher,
		cache:              cache,
		logger:             logger,
		defaultBillingDays: defaultBillingDays,
		now:                time.Now,
	}
}

// CreatePendingParams carries the checkout-initiation input.
type CreatePendingParams struct {
	UserID        string
	PlanID        string
	Amount        int64
	Currency      domain.Currency
	PaymentMethod domain.PaymentMethod
	AutoRenew     bool
}

// CreatePending creates a subscription in the pending state at checkout
// initiation. The billing period comes from the plan's catalog entry; if the
// catalog cannot resolve the plan the default period applies and activation
// will proceed without a snapshot.
func (s *Service) CreatePending(ctx context.Context, params CreatePendingParams) (*domain.Subscription, error) {
	if params.UserID == "" {
		return nil, domain.NewValidationError("userId", "must not be empty")
	}
	if params.PlanID == "" {
		return nil, domain.NewValidationError("planId", "must not be empty")
	}
	if params.Amount < 0 {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}

	now := s.now()
	billingDays := s.defaultBillingDays
	if plan, err := s.catalog.GetPlan(ctx, params.PlanID); err != nil {
		s.logger.Warn("plan lookup failed at checkout, using default billing period",
			"plan_id", params.PlanID, "error", err)
	} else if plan.BillingPeriodDays > 0 {
		billingDays = plan.BillingPeriodDays
	}

	sub := &domain.Subscription{
		ID:            uuid.NewString(),
		UserID:        params.UserID,
		PlanID:        params.PlanID,
		Status:        domain.StatusPending,
		StartDate:     now,
		EndDate:       now.AddDate(0, 0, billingDays),
		Amount:        params.Amount,
		Currency:      params.Currency,
		PaymentMethod: params.PaymentMethod,
		AutoRenew:     params.AutoRenew,
	}
	if sub.Currency == "" {
		sub.Currency = domain.CurrencyUSD
	}
	if sub.PaymentMethod == "" {
		sub.PaymentMethod = domain.PaymentMethodCard
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Activate moves a pending subscription to active after payment confirmation.
// It freezes the plan snapshot, records the purchase in the ledger and emits
// the activated event. Activating anything but a pending subscription is an
// invalid transition: payment webhooks must be de-duplicated upstream, so a
// second delivery is a conflict, not a silent success.
func (s *Service) Activate(ctx context.Context, id, transactionRef, orderRef string) (*domain.Subscription, error) {
	if transactionRef == "" {
		return nil, domain.NewValidationError("transactionRef", "must not be empty")
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusPending {
		return nil, domain.NewInvalidTransition("activate", sub.Status)
	}

	now := s.now()
	sub.Status = domain.StatusActive
	sub.TransactionID = transactionRef
	sub.LastPaymentDate = &now
	sub.RenewalAttempts = 0
	if sub.AutoRenew {
		next := sub.EndDate
		sub.NextBillingDate = &next
	}
	if sub.PlanSnapshot == nil {
		sub.PlanSnapshot = s.buildPlanSnapshot(ctx, sub.PlanID)
	}
	// Add-ons selected at checkout are snapshotted together with the plan.
	if missing := s.missingAddonIDs(sub); len(missing) > 0 {
		sub.AddonsSnapshot = append(sub.AddonsSnapshot, s.buildAddonsSnapshot(ctx, missing)...)
	}
	sub.PaymentHistory = append(sub.PaymentHistory, domain.PaymentEntry{
		Type:       domain.PaymentEntryPurchase,
		Amount:     sub.Amount,
		PaymentRef: transactionRef,
		OrderRef:   orderRef,
		Date:       now,
	})

	if err := s.repo.UpdateGuarded(ctx, sub, domain.StatusPending); err != nil {
		return nil, err
	}

	s.invalidateEntitlements(ctx, sub.UserID)
	s.publish(ctx, domain.RoutingKeyActivated, domain.SubscriptionActivatedEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		PlanName:       planName(sub),
		EndDate:        sub.EndDate,
	})
	return sub, nil
}

// RenewParams carries the input for a renewal or plan upgrade.
type RenewParams struct {
	NewEndDate     time.Time
	TransactionRef string
	Amount         int64
	// NewPlanID switches the subscription to a different plan and re-freezes
	// the snapshot. Empty means renew on the current plan.
	NewPlanID string
}

// Renew extends a subscription's period and moves it back to active. Expired
// subscriptions may be revived this way; cancelled ones may not and must go
// through a fresh checkout.
func (s *Service) Renew(ctx context.Context, id string, params RenewParams) (*domain.Subscription, error) {
	if params.TransactionRef == "" {
		return nil, domain.NewValidationError("transactionRef", "must not be empty")
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusActive && sub.Status != domain.StatusExpired {
		return nil, domain.NewInvalidTransition("renew", sub.Status)
	}
	if !params.NewEndDate.After(sub.EndDate) {
		return nil, domain.NewValidationError("newEndDate", "must be after the current end date")
	}

	now := s.now()
	entryType := domain.PaymentEntryRenewal
	if params.NewPlanID != "" && params.NewPlanID != sub.PlanID {
		sub.PlanID = params.NewPlanID
		sub.PlanSnapshot = s.buildPlanSnapshot(ctx, params.NewPlanID)
		entryType = domain.PaymentEntryUpgrade
	}

	sub.Status = domain.StatusActive
	sub.EndDate = params.NewEndDate
	sub.TransactionID = params.TransactionRef
	sub.LastPaymentDate = &now
	sub.RenewalAttempts = 0
	if sub.AutoRenew {
		next := params.NewEndDate
		sub.NextBillingDate = &next
	}
	sub.PaymentHistory = append(sub.PaymentHistory, domain.PaymentEntry{
		Type:       entryType,
		Amount:     params.Amount,
		PaymentRef: params.TransactionRef,
		Date:       now,
	})

	if err := s.repo.UpdateGuarded(ctx, sub, domain.StatusActive, domain.StatusExpired); err != nil {
		return nil, err
	}

	s.invalidateEntitlements(ctx, sub.UserID)
	s.publish(ctx, domain.RoutingKeyRenewed, domain.SubscriptionRenewedEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		NewEndDate:     sub.EndDate,
	})
	return sub, nil
}

// Cancel stops a pending or active subscription. Cancelling an already
// cancelled subscription is a no-op success, so clients can retry safely.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.StatusCancelled {
		return sub, nil
	}
	if sub.Status != domain.StatusPending && sub.Status != domain.StatusActive {
		return nil, domain.NewInvalidTransition("cancel", sub.Status)
	}

	now := s.now()
	sub.Status = domain.StatusCancelled
	sub.AutoRenew = false
	sub.NextBillingDate = nil
	sub.CancellationReason = reason
	sub.CancelledAt = &now

	err = s.repo.UpdateGuarded(ctx, sub, domain.StatusPending, domain.StatusActive)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race. If the winner was another cancel, this call is still a
		// no-op success; any other transition is a genuine conflict.
		current, readErr := s.repo.GetByID(ctx, id)
		if readErr == nil && current.Status == domain.StatusCancelled {
			return current, nil
		}
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}

	s.invalidateEntitlements(ctx, sub.UserID)
	s.publish(ctx, domain.RoutingKeyCancelled, domain.SubscriptionCancelledEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Reason:         reason,
		CancelledAt:    now,
	})
	return sub, nil
}

// AttachAddon purchases an add-on onto an active subscription: records its
// activity window, freezes its snapshot and appends the addon_purchase ledger
// entry. billingCycleMonths of 0 means the add-on runs with no expiry of its
// own.
func (s *Service) AttachAddon(ctx context.Context, id, addonID string, billingCycleMonths int, amount int64, paymentRef string) (*domain.Subscription, error) {
	if addonID == "" {
		return nil, domain.NewValidationError("addonId", "must not be empty")
	}
	if billingCycleMonths < 0 {
		return nil, domain.NewValidationError("billingCycleMonths", "must not be negative")
	}
	if amount < 0 {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !sub.IsActive(now) {
		return nil, domain.NewInvalidTransition("attach addon to", sub.Status)
	}

	addon, err := s.catalog.GetAddon(ctx, addonID)
	if err != nil {
		return nil, err
	}

	detail := domain.AddonDetail{
		AddonID:            addonID,
		PurchaseDate:       now,
		IsActive:           true,
		BillingCycleMonths: billingCycleMonths,
	}
	if billingCycleMonths > 0 {
		expiry := now.AddDate(0, billingCycleMonths, 0)
		detail.ExpiryDate = &expiry
	}

	sub.AddonIDs = append(sub.AddonIDs, addonID)
	sub.AddonDetails = append(sub.AddonDetails, detail)
	if sub.AddonSnapshotFor(addonID) == nil {
		sub.AddonsSnapshot = append(sub.AddonsSnapshot, domain.NewAddonSnapshot(addon))
	}
	sub.PaymentHistory = append(sub.PaymentHistory, domain.PaymentEntry{
		Type:       domain.PaymentEntryAddonPurchase,
		Amount:     amount,
		AddonIDs:   []string{addonID},
		PaymentRef: paymentRef,
		Date:       now,
	})

	if err := s.repo.UpdateGuarded(ctx, sub, domain.StatusActive); err != nil {
		return nil, err
	}

	s.invalidateEntitlements(ctx, sub.UserID)
	return sub, nil
}

// Subscription returns a subscription by id.
func (s *Service) Subscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if id == "" {
		return nil, domain.NewValidationError("id", "must not be empty")
	}
	return s.repo.GetByID(ctx, id)
}

// FindActiveSubscription returns the user's current serving subscription, or
// domain.ErrSubscriptionNotFound.
func (s *Service) FindActiveSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "must not be empty")
	}
	return s.repo.FindActiveByUserID(ctx, userID)
}

// Entitlements resolves the effective entitlement set for a user. The read
// path never fails: lookup errors degrade to the free tier so feature gates
// stay available (and fail closed) when a dependency is down. Degraded results
// are not cached, so the next resolve after a recovery sees the real state.
func (s *Service) Entitlements(ctx context.Context, userID string) domain.EntitlementSet {
	if s.cache != nil {
		if set, ok := s.cache.Get(ctx, userID); ok {
			return set
		}
	}

	var sub *domain.Subscription
	degraded := false
	found, err := s.repo.FindActiveByUserID(ctx, userID)
	switch {
	case err == nil:
		sub = found
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		// No subscription: free tier.
	default:
		degraded = true
		s.logger.Error("active subscription lookup failed, degrading to free tier",
			"user_id", userID, "error", err)
	}

	// A subscription that could not be snapshotted at activation resolves
	// against the live catalog plan until a later transition freezes one. The
	// transient snapshot is used for this resolve only, never persisted.
	if sub != nil && sub.PlanSnapshot == nil {
		if plan, planErr := s.catalog.GetPlan(ctx, sub.PlanID); planErr == nil {
			sub.PlanSnapshot = domain.NewPlanSnapshot(plan)
		} else {
			degraded = true
			s.logger.Warn("live plan lookup failed for snapshot-less subscription, degrading to free tier",
				"user_id", userID, "plan_id", sub.PlanID, "error", planErr)
		}
	}

	set := domain.ResolveEntitlements(sub, s.now())
	if s.cache != nil && !degraded {
		if err := s.cache.Set(ctx, userID, set); err != nil {
			s.logger.Warn("failed to cache entitlements", "user_id", userID, "error", err)
		}
	}
	return set
}

// CurrentSubscription summarises the user's newest subscription for the API.
func (s *Service) CurrentSubscription(ctx context.Context, userID string) (*domain.SubscriptionStatusView, error) {
	sub, err := s.repo.FindActiveByUserID(ctx, userID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		subs, listErr := s.repo.ListByUserID(ctx, userID)
		if listErr != nil {
			return nil, listErr
		}
		if len(subs) == 0 {
			return nil, domain.ErrSubscriptionNotFound
		}
		sub = &subs[0]
	} else if err != nil {
		return nil, err
	}

	now := s.now()
	view := &domain.SubscriptionStatusView{
		Status:        sub.Status,
		PlanID:        sub.PlanID,
		PlanName:      planName(sub),
		AutoRenew:     sub.AutoRenew,
		IsActive:      sub.IsActive(now),
		DaysRemaining: sub.DaysRemaining(now),
	}
	if view.IsActive {
		end := sub.EndDate
		view.EndDate = &end
	}
	return view, nil
}

// PaymentHistory returns the append-only ledger for a subscription, oldest
// entry first.
func (s *Service) PaymentHistory(ctx context.Context, id string) ([]domain.PaymentEntry, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub.PaymentHistory, nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		s.logger.Error("failed to publish lifecycle event", "routing_key", routingKey, "error", err)
	}
}

func (s *Service) invalidateEntitlements(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate entitlement cache", "user_id", userID, "error", err)
	}
}

func planName(sub *domain.Subscription) string {
	if sub.PlanSnapshot == nil {
		return ""
	}
	return sub.PlanSnapshot.Name
}
