/**
 * @description
 * This file defines the plan and add-on catalog types consumed from the
 * external catalog service, plus the immutable snapshot value objects that
 * get frozen onto a subscription at purchase time.
 */
package domain

// SupportTier enumerates the support levels a plan can carry.
type SupportTier string

const (
	SupportNone      SupportTier = "none"
	SupportStandard  SupportTier = "standard"
	SupportPriority  SupportTier = "priority"
	SupportDedicated SupportTier = "dedicated"
)

// LeadTier enumerates lead-management capability levels.
type LeadTier string

const (
	LeadTierNone     LeadTier = "none"
	LeadTierBasic    LeadTier = "basic"
	LeadTierAdvanced LeadTier = "advanced"
)

// PlanLimits is the typed limit set attached to a plan or add-on. Numeric caps
// use 0 to mean unlimited, but only when the owning capability is enabled; a
// disabled capability contributes nothing regardless of its cap.
type PlanLimits struct {
	Properties       int         `json:"properties"`
	FeaturedListings int         `json:"featured_listings"`
	Photos           int         `json:"photos"`
	VideoTours       int         `json:"video_tours"`
	Videos           int         `json:"videos"`
	Leads            int         `json:"leads"`
	Posters          int         `json:"posters"`
	Messages         int         `json:"messages"`
	TopRated         bool        `json:"top_rated"`
	VerifiedBadge    bool        `json:"verified_badge"`
	MarketingManager bool        `json:"marketing_manager"`
	CommissionBased  bool        `json:"commission_based"`
	Support          SupportTier `json:"support"`
	LeadManagement   LeadTier    `json:"lead_management"`
}

// PlanFeature is a named feature flag on a plan.
type PlanFeature struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Plan is a live catalog entry. Catalog entries are mutable by admins, which
// is exactly why subscriptions snapshot them at purchase time.
type Plan struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Price             int64         `json:"price"` // minor units
	Currency          Currency      `json:"currency"`
	BillingPeriodDays int           `json:"billing_period_days"`
	Features          []PlanFeature `json:"features,omitempty"`
	Limits            PlanLimits    `json:"limits"`
}

// AddonBillingType enumerates how an add-on is billed.
type AddonBillingType string

const (
	AddonBillingOneTime   AddonBillingType = "one_time"
	AddonBillingRecurring AddonBillingType = "recurring"
)

// Addon is a live add-on catalog entry. Add-ons carry their own limit grants
// and feature flags, merged additively into the base plan's entitlements.
type Addon struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Category            string           `json:"category"`
	Description         string           `json:"description,omitempty"`
	Price               int64            `json:"price"` // minor units
	Currency            Currency         `json:"currency"`
	BillingType         AddonBillingType `json:"billing_type"`
	BillingPeriodMonths int              `json:"billing_period_months"`
	Features            []PlanFeature    `json:"features,omitempty"`
	Limits              PlanLimits       `json:"limits"`
}

// PlanSnapshot is the immutable copy of a plan embedded in a subscription.
// It is written once at activation (or re-snapshot on a renewal onto a new
// plan) and never touched by later catalog edits.
type PlanSnapshot struct {
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Price             int64         `json:"price"`
	Currency          Currency      `json:"currency"`
	BillingPeriodDays int           `json:"billing_period_days"`
	Features          []PlanFeature `json:"features,omitempty"`
	Limits            PlanLimits    `json:"limits"`
}

// AddonSnapshot mirrors PlanSnapshot for an attached add-on.
type AddonSnapshot struct {
	AddonID     string           `json:"addon_id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Price       int64            `json:"price"`
	Currency    Currency         `json:"currency"`
	BillingType AddonBillingType `json:"billing_type"`
	Features    []PlanFeature    `json:"features,omitempty"`
	Limits      PlanLimits       `json:"limits"`
}

// NewPlanSnapshot deep-copies a plan into a snapshot value object with no live
// reference back to the catalog record.
func NewPlanSnapshot(plan *Plan) *PlanSnapshot {
	if plan == nil {
		return nil
	}
	snap := &PlanSnapshot{
		Name:              plan.Name,
		Description:       plan.Description,
		Price:             plan.Price,
		Currency:          plan.Currency,
		BillingPeriodDays: plan.BillingPeriodDays,
		Limits:            plan.Limits,
	}
	if len(plan.Features) > 0 {
		snap.Features = make([]PlanFeature, len(plan.Features))
		copy(snap.Features, plan.Features)
	}
	return snap
}

// NewAddonSnapshot deep-copies an add-on into a snapshot value object.
func NewAddonSnapshot(addon *Addon) AddonSnapshot {
	snap := AddonSnapshot{
		AddonID:     addon.ID,
		Name:        addon.Name,
		Category:    addon.Category,
		Price:       addon.Price,
		Currency:    addon.Currency,
		BillingType: addon.BillingType,
		Limits:      addon.Limits,
	}
	if len(addon.Features) > 0 {
		snap.Features = make([]PlanFeature, len(addon.Features))
		copy(snap.Features, addon.Features)
	}
	return snap
}
