/**
 * @description
 * This file implements entitlement resolution: given a subscription (or none),
 * compute the effective limits and feature gates the rest of the marketplace
 * may rely on. Resolution is pure and side-effect free so feature-gated
 * callers can run it from arbitrarily many concurrent request handlers.
 *
 * Two rules anchor the design:
 *   - The plan snapshot frozen at purchase time always wins over the live
 *     catalog entry, so admin edits never change what an existing subscriber
 *     already bought.
 *   - Resolution never fails. A missing snapshot or unresolved add-on degrades
 *     to the free tier for the affected portion (least privilege), keeping
 *     feature gates available even when the catalog is down.
 */
package domain

import (
	"strings"
	"time"
)

// Feature gate names consumed by feature-gated callers elsewhere in the
// marketplace (property posting, dashboard, lead inbox).
const (
	GateFeaturedListing  = "featuredListingSubscription"
	GatePremiumAnalytics = "premiumAnalyticsSubscription"
	GateLeadManagement   = "leadManagementSubscription"
	GateTopRated         = "topRatedSubscription"
	GateVerifiedBadge    = "verifiedBadgeSubscription"
)

// ActiveAddonEntitlement describes one add-on currently contributing to the
// entitlement set.
type ActiveAddonEntitlement struct {
	AddonID    string     `json:"addon_id"`
	Name       string     `json:"name,omitempty"`
	Category   string     `json:"category,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// EntitlementSet is the resolved set of limits and features a subscriber may
// currently use. Numeric caps of 0 mean unlimited only when the corresponding
// gate is present in Features; callers must check the gate first.
type EntitlementSet struct {
	Limits   PlanLimits               `json:"limits"`
	Features map[string]bool          `json:"features"`
	Addons   []ActiveAddonEntitlement `json:"addons,omitempty"`
}

// HasFeature reports whether a named gate is granted.
func (e EntitlementSet) HasFeature(name string) bool {
	return e.Features[name]
}

// FreeTierEntitlements returns the fixed minimal entitlement set used when no
// active subscription exists. Values are deliberately hard-coded rather than
// loaded from the catalog, so a catalog outage cannot change the floor.
func FreeTierEntitlements() EntitlementSet {
	return EntitlementSet{
		Limits: PlanLimits{
			Properties:     3,
			Photos:         5,
			Messages:       10,
			Support:        SupportNone,
			LeadManagement: LeadTierNone,
		},
		Features: map[string]bool{},
	}
}

// featureGate maps snapshot limits and feature-name substrings to a named
// capability. The table is data, not control flow: adding a gate means adding
// a row, never touching the resolver.
type featureGate struct {
	name      string
	nameMatch []string              // lowercase substrings matched against feature names
	enabled   func(PlanLimits) bool // limit-based predicate
}

var featureGates = []featureGate{
	{
		name:      GateFeaturedListing,
		nameMatch: []string{"featured"},
		enabled:   func(l PlanLimits) bool { return l.FeaturedListings > 0 },
	},
	{
		name:      GatePremiumAnalytics,
		nameMatch: []string{"analytics", "premium analytics"},
		enabled:   func(l PlanLimits) bool { return l.MarketingManager },
	},
	{
		name:      GateLeadManagement,
		nameMatch: []string{"lead"},
		enabled:   func(l PlanLimits) bool { return l.LeadManagement != "" && l.LeadManagement != LeadTierNone },
	},
	{
		name:      GateTopRated,
		nameMatch: []string{"top rated", "top-rated", "toprated"},
		enabled:   func(l PlanLimits) bool { return l.TopRated },
	},
	{
		name:      GateVerifiedBadge,
		nameMatch: []string{"verified"},
		enabled:   func(l PlanLimits) bool { return l.VerifiedBadge },
	},
}

// featuresMatch reports whether any enabled feature's name contains one of the
// gate's substrings.
func (g featureGate) featuresMatch(features []PlanFeature) bool {
	for _, f := range features {
		if !f.Enabled {
			continue
		}
		lower := strings.ToLower(f.Name)
		for _, sub := range g.nameMatch {
			if strings.Contains(lower, sub) {
				return true
			}
		}
	}
	return false
}

// ResolveEntitlements computes the effective entitlement set for a
// subscription as of now. A nil or non-serving subscription yields the free
// tier. Active, unexpired add-ons are folded in additively: numeric caps add,
// boolean capabilities OR, tiers take the higher value. An add-on can only
// grant, never revoke.
func ResolveEntitlements(sub *Subscription, now time.Time) EntitlementSet {
	if sub == nil || !sub.IsActive(now) {
		return FreeTierEntitlements()
	}

	var baseLimits PlanLimits
	var baseFeatures []PlanFeature
	snapshotPresent := sub.PlanSnapshot != nil
	if snapshotPresent {
		baseLimits = sub.PlanSnapshot.Limits
		baseFeatures = sub.PlanSnapshot.Features
	} else {
		// No snapshot could be built at purchase time: least privilege.
		baseLimits = FreeTierEntitlements().Limits
	}

	merged := baseLimits
	features := append([]PlanFeature(nil), baseFeatures...)
	var addons []ActiveAddonEntitlement

	for _, detail := range sub.ActiveAddonDetails(now) {
		snap := sub.AddonSnapshotFor(detail.AddonID)
		if snap == nil {
			// Unresolved add-on: skip its grants rather than failing.
			continue
		}
		merged = mergeLimits(merged, snapshotPresent, snap.Limits)
		features = append(features, snap.Features...)
		addons = append(addons, ActiveAddonEntitlement{
			AddonID:    detail.AddonID,
			Name:       snap.Name,
			Category:   snap.Category,
			ExpiryDate: detail.ExpiryDate,
		})
	}

	granted := map[string]bool{}
	for _, gate := range featureGates {
		if gate.enabled(merged) || gate.featuresMatch(features) {
			granted[gate.name] = true
		}
	}

	return EntitlementSet{
		Limits:   merged,
		Features: granted,
		Addons:   addons,
	}
}

// mergeLimits folds one add-on's grants into the running limit set. A base
// cap of 0 on a real plan snapshot means unlimited and absorbs any addition;
// on the free-tier fallback it means none, so add-on grants still count.
func mergeLimits(base PlanLimits, baseUnlimitedAtZero bool, grant PlanLimits) PlanLimits {
	out := base
	out.Properties = addCap(base.Properties, grant.Properties, baseUnlimitedAtZero)
	out.FeaturedListings = addCap(base.FeaturedListings, grant.FeaturedListings, false)
	out.Photos = addCap(base.Photos, grant.Photos, baseUnlimitedAtZero)
	out.VideoTours = addCap(base.VideoTours, grant.VideoTours, false)
	out.Videos = addCap(base.Videos, grant.Videos, false)
	out.Leads = addCap(base.Leads, grant.Leads, false)
	out.Posters = addCap(base.Posters, grant.Posters, false)
	out.Messages = addCap(base.Messages, grant.Messages, baseUnlimitedAtZero)
	out.TopRated = base.TopRated || grant.TopRated
	out.VerifiedBadge = base.VerifiedBadge || grant.VerifiedBadge
	out.MarketingManager = base.MarketingManager || grant.MarketingManager
	out.CommissionBased = base.CommissionBased || grant.CommissionBased
	out.Support = higherSupport(base.Support, grant.Support)
	out.LeadManagement = higherLeadTier(base.LeadManagement, grant.LeadManagement)
	return out
}

// addCap adds an add-on grant to a base cap. When the base cap is 0 and zero
// means unlimited for this field, the result stays unlimited.
func addCap(base, grant int, zeroIsUnlimited bool) int {
	if zeroIsUnlimited && base == 0 {
		return 0
	}
	if grant <= 0 {
		return base
	}
	return base + grant
}

var supportOrder = map[SupportTier]int{
	SupportNone:      0,
	SupportStandard:  1,
	SupportPriority:  2,
	SupportDedicated: 3,
}

func higherSupport(a, b SupportTier) SupportTier {
	if supportOrder[b] > supportOrder[a] {
		return b
	}
	return a
}

var leadTierOrder = map[LeadTier]int{
	LeadTierNone:     0,
	LeadTierBasic:    1,
	LeadTierAdvanced: 2,
}

func higherLeadTier(a, b LeadTier) LeadTier {
	if leadTierOrder[b] > leadTierOrder[a] {
		return b
	}
	return a
}
