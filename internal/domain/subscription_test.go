package domain

import (
	"testing"
	"time"
)

func TestSubscriptionDerivedFields(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		status        SubscriptionStatus
		endOffset     time.Duration
		wantActive    bool
		wantExpired   bool
		wantRemaining int
	}{
		{
			name:          "active with time left",
			status:        StatusActive,
			endOffset:     10*24*time.Hour + time.Hour,
			wantActive:    true,
			wantExpired:   false,
			wantRemaining: 11, // partial day rounds up
		},
		{
			name:          "active but period lapsed",
			status:        StatusActive,
			endOffset:     -time.Minute,
			wantActive:    false,
			wantExpired:   true,
			wantRemaining: 0,
		},
		{
			name:          "explicitly expired with future end date",
			status:        StatusExpired,
			endOffset:     24 * time.Hour,
			wantActive:    false,
			wantExpired:   true,
			wantRemaining: 0,
		},
		{
			name:          "pending is not serving",
			status:        StatusPending,
			endOffset:     24 * time.Hour,
			wantActive:    false,
			wantExpired:   false,
			wantRemaining: 1,
		},
		{
			name:          "cancelled with time left is not serving",
			status:        StatusCancelled,
			endOffset:     48 * time.Hour,
			wantActive:    false,
			wantExpired:   false,
			wantRemaining: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := &Subscription{
				Status:    tc.status,
				StartDate: now.Add(-24 * time.Hour),
				EndDate:   now.Add(tc.endOffset),
			}
			if got := sub.IsActive(now); got != tc.wantActive {
				t.Fatalf("IsActive = %v, want %v", got, tc.wantActive)
			}
			if got := sub.IsExpired(now); got != tc.wantExpired {
				t.Fatalf("IsExpired = %v, want %v", got, tc.wantExpired)
			}
			if got := sub.DaysRemaining(now); got != tc.wantRemaining {
				t.Fatalf("DaysRemaining = %d, want %d", got, tc.wantRemaining)
			}
		})
	}
}

func TestActiveAddonDetailsFiltersInactiveAndExpired(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	sub := &Subscription{
		AddonDetails: []AddonDetail{
			{AddonID: "keep-open-ended", IsActive: true},
			{AddonID: "keep-future", IsActive: true, ExpiryDate: &future},
			{AddonID: "drop-expired", IsActive: true, ExpiryDate: &past},
			{AddonID: "drop-inactive", IsActive: false, ExpiryDate: &future},
		},
	}

	got := sub.ActiveAddonDetails(now)
	if len(got) != 2 {
		t.Fatalf("expected 2 active add-ons, got %d: %+v", len(got), got)
	}
	if got[0].AddonID != "keep-open-ended" || got[1].AddonID != "keep-future" {
		t.Fatalf("unexpected active add-ons: %+v", got)
	}
}

func TestNewPlanSnapshotIsDeepCopy(t *testing.T) {
	plan := &Plan{
		ID:                "plan-1",
		Name:              "Agency",
		Price:             19900,
		Currency:          CurrencyUSD,
		BillingPeriodDays: 30,
		Features:          []PlanFeature{{Name: "Featured listings", Enabled: true}},
		Limits:            PlanLimits{Properties: 25, FeaturedListings: 5},
	}

	snap := NewPlanSnapshot(plan)

	plan.Name = "Agency v2"
	plan.Limits.Properties = 1
	plan.Features[0].Enabled = false

	if snap.Name != "Agency" {
		t.Fatalf("snapshot name mutated: %q", snap.Name)
	}
	if snap.Limits.Properties != 25 {
		t.Fatalf("snapshot limits mutated: %d", snap.Limits.Properties)
	}
	if !snap.Features[0].Enabled {
		t.Fatal("snapshot features share backing array with live plan")
	}
}

func TestNewPlanSnapshotNilPlan(t *testing.T) {
	if snap := NewPlanSnapshot(nil); snap != nil {
		t.Fatalf("expected nil snapshot for nil plan, got %+v", snap)
	}
}

func TestNewAddonSnapshotIsDeepCopy(t *testing.T) {
	addon := &Addon{
		ID:       "addon-1",
		Name:     "Lead Booster",
		Category: "leads",
		Features: []PlanFeature{{Name: "Lead inbox", Enabled: true}},
		Limits:   PlanLimits{Leads: 50},
	}

	snap := NewAddonSnapshot(addon)

	addon.Features[0].Enabled = false
	addon.Limits.Leads = 0

	if !snap.Features[0].Enabled || snap.Limits.Leads != 50 {
		t.Fatalf("add-on snapshot shares state with live record: %+v", snap)
	}
}
