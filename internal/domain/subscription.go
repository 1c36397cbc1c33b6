/**
 * @description
 * This file defines the core domain model for the subscription-service.
 * It includes the Subscription struct that maps to the database table,
 * the lifecycle status enum, and the embedded payment-history ledger types.
 */
package domain

import (
	"math"
	"time"
)

// SubscriptionStatus enumerates the lifecycle states of a subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusExpired   SubscriptionStatus = "expired"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Currency enumerates the currencies the marketplace bills in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyAED Currency = "AED"
	CurrencyINR Currency = "INR"
)

// PaymentMethod enumerates supported payment instruments.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodPaypal       PaymentMethod = "paypal"
	PaymentMethodWallet       PaymentMethod = "wallet"
)

// PaymentEntryType enumerates the kinds of ledger entries a subscription accumulates.
type PaymentEntryType string

const (
	PaymentEntryPurchase      PaymentEntryType = "purchase"
	PaymentEntryAddonPurchase PaymentEntryType = "addon_purchase"
	PaymentEntryRenewal       PaymentEntryType = "renewal"
	PaymentEntryUpgrade       PaymentEntryType = "upgrade"
)

// PaymentEntry is a single append-only ledger record. Entries are never edited
// or removed once written; invoice generation consumes them downstream.
type PaymentEntry struct {
	Type       PaymentEntryType `json:"type"`
	Amount     int64            `json:"amount"` // minor units
	AddonIDs   []string         `json:"addon_ids,omitempty"`
	PaymentRef string           `json:"payment_ref,omitempty"`
	OrderRef   string           `json:"order_ref,omitempty"`
	Date       time.Time        `json:"date"`
}

// AddonDetail tracks one attached add-on's own activity window, which runs
// independently of the subscription's period. IsActive is the only field that
// may change after the add-on is attached.
type AddonDetail struct {
	AddonID            string     `json:"addon_id"`
	PurchaseDate       time.Time  `json:"purchase_date"`
	ExpiryDate         *time.Time `json:"expiry_date,omitempty"`
	IsActive           bool       `json:"is_active"`
	BillingCycleMonths int        `json:"billing_cycle_months"`
}

// Subscription represents one purchase event. A user accumulates one record
// per purchase over time; at most one should be serving (active and unexpired)
// at once, which a periodic reconciliation pass repairs rather than a creation
// guard enforcing.
type Subscription struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`

	// PlanSnapshot is frozen at activation. A nil snapshot means the plan
	// could not be resolved at purchase time; entitlement resolution then
	// degrades to the free tier rather than erroring.
	PlanSnapshot *PlanSnapshot `json:"plan_snapshot,omitempty"`

	AddonIDs       []string        `json:"addon_ids,omitempty"`
	AddonDetails   []AddonDetail   `json:"addon_details,omitempty"`
	AddonsSnapshot []AddonSnapshot `json:"addons_snapshot,omitempty"`

	Status    SubscriptionStatus `json:"status"`
	StartDate time.Time          `json:"start_date"`
	EndDate   time.Time          `json:"end_date"`

	Amount        int64         `json:"amount"` // minor units
	Currency      Currency      `json:"currency"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty"`

	AutoRenew       bool       `json:"auto_renew"`
	RenewalAttempts int        `json:"renewal_attempts"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	PaymentHistory []PaymentEntry `json:"payment_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the subscription is currently serving: status is
// active and the period has not lapsed.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.After(now)
}

// IsExpired reports whether the subscription's period has lapsed or it has
// been explicitly expired.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.Status == StatusExpired || !s.EndDate.After(now)
}

// DaysRemaining returns the number of whole or partial days until the period
// ends, or 0 once expired.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s.IsExpired(now) {
		return 0
	}
	remaining := s.EndDate.Sub(now)
	return int(math.Ceil(remaining.Hours() / 24))
}

// ActiveAddonDetails returns the add-on windows that are active and unexpired
// as of now.
func (s *Subscription) ActiveAddonDetails(now time.Time) []AddonDetail {
	var active []AddonDetail
	for _, d := range s.AddonDetails {
		if !d.IsActive {
			continue
		}
		if d.ExpiryDate != nil && !d.ExpiryDate.After(now) {
			continue
		}
		active = append(active, d)
	}
	return active
}

// AddonSnapshotFor looks up the frozen snapshot for a given add-on id.
func (s *Subscription) AddonSnapshotFor(addonID string) *AddonSnapshot {
	for i := range s.AddonsSnapshot {
		if s.AddonsSnapshot[i].AddonID == addonID {
			return &s.AddonsSnapshot[i]
		}
	}
	return nil
}

// SubscriptionStatusView is a DTO for API responses summarising the caller's
// current subscription.
type SubscriptionStatusView struct {
	Status        SubscriptionStatus `json:"status"`
	PlanID        string             `json:"plan_id,omitempty"`
	PlanName      string             `json:"plan_name,omitempty"`
	EndDate       *time.Time         `json:"end_date,omitempty"`
	AutoRenew     bool               `json:"auto_renew"`
	IsActive      bool               `json:"is_active"`
	DaysRemaining int                `json:"days_remaining"`
}
