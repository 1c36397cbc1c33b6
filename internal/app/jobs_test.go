package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/homevia/subscription-service/internal/domain"
)

type jobsFixture struct {
	repo      *repoStub
	publisher *publisherStub
	cache     *cacheStub
	jobs      *Jobs
}

func newJobsFixture() *jobsFixture {
	f := &jobsFixture{
		repo:      newRepoStub(),
		publisher: &publisherStub{},
		cache:     newCacheStub(),
	}
	f.jobs = NewJobs(f.repo, f.publisher, f.cache, testLogger(), 7)
	return f
}

// seed stores a subscription with the given status and end date and returns
// its id.
func (f *jobsFixture) seed(userID string, status domain.SubscriptionStatus, endDate time.Time, createdAt time.Time) string {
	sub := &domain.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    "plan-pro",
		Status:    status,
		StartDate: endDate.AddDate(0, 0, -30),
		EndDate:   endDate,
		CreatedAt: createdAt,
	}
	f.repo.put(sub)
	return sub.ID
}

func TestExpireDueSubscriptions_TransitionsOnlyPastDueActives(t *testing.T) {
	f := newJobsFixture()
	now := time.Now()

	dueID := f.seed("user-due", domain.StatusActive, now.Add(-time.Hour), now.AddDate(0, -1, 0))
	currentID := f.seed("user-current", domain.StatusActive, now.AddDate(0, 0, 10), now.AddDate(0, -1, 0))
	cancelledID := f.seed("user-cancelled", domain.StatusCancelled, now.Add(-time.Hour), now.AddDate(0, -1, 0))

	f.jobs.ExpireDueSubscriptions()

	if got := f.repo.subs[dueID].Status; got != domain.StatusExpired {
		t.Fatalf("expected past-due subscription expired, got %q", got)
	}
	if got := f.repo.subs[currentID].Status; got != domain.StatusActive {
		t.Fatalf("expected current subscription untouched, got %q", got)
	}
	if got := f.repo.subs[cancelledID].Status; got != domain.StatusCancelled {
		t.Fatalf("cancelled subscription must never become expired, got %q", got)
	}
	if keys := f.publisher.keys(); len(keys) != 1 || keys[0] != domain.RoutingKeyExpired {
		t.Fatalf("expected one expired event, got %v", keys)
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "user-due" {
		t.Fatalf("expected cache invalidated for the expired user only, got %v", f.cache.invalidated)
	}

	// The sweep is idempotent: a second run finds nothing to do.
	f.jobs.ExpireDueSubscriptions()
	if keys := f.publisher.keys(); len(keys) != 1 {
		t.Fatalf("second sweep must not re-emit events, got %v", keys)
	}
}

func TestNotifyExpiringSoon_WindowFilter(t *testing.T) {
	f := newJobsFixture()
	now := time.Now()

	f.seed("user-soon", domain.StatusActive, now.AddDate(0, 0, 3), now)
	f.seed("user-later", domain.StatusActive, now.AddDate(0, 0, 20), now)
	f.seed("user-lapsed", domain.StatusActive, now.Add(-time.Hour), now)

	f.jobs.NotifyExpiringSoon()

	keys := f.publisher.keys()
	if len(keys) != 1 || keys[0] != domain.RoutingKeyExpiringSoon {
		t.Fatalf("expected one expiring-soon event, got %v", keys)
	}
	event, ok := f.publisher.events[0].body.(domain.SubscriptionExpiringSoonEvent)
	if !ok {
		t.Fatalf("unexpected event payload type %T", f.publisher.events[0].body)
	}
	if event.UserID != "user-soon" {
		t.Fatalf("expected notice for user-soon, got %q", event.UserID)
	}
	if event.DaysRemaining < 1 || event.DaysRemaining > 3 {
		t.Fatalf("unexpected days remaining %d", event.DaysRemaining)
	}
}

func TestDeactivateLapsedAddons_FlipsOnlyLapsedWindows(t *testing.T) {
	f := newJobsFixture()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.AddDate(0, 1, 0)

	subID := f.seed("user-1", domain.StatusActive, now.AddDate(0, 0, 30), now)
	f.repo.subs[subID].AddonDetails = []domain.AddonDetail{
		{AddonID: "addon-lapsed", PurchaseDate: now.AddDate(0, -2, 0), ExpiryDate: &past, IsActive: true},
		{AddonID: "addon-live", PurchaseDate: now, ExpiryDate: &future, IsActive: true},
		{AddonID: "addon-perpetual", PurchaseDate: now, IsActive: true},
	}

	f.jobs.DeactivateLapsedAddons()

	details := f.repo.subs[subID].AddonDetails
	if details[0].IsActive {
		t.Fatal("expected lapsed add-on deactivated")
	}
	if !details[1].IsActive || !details[2].IsActive {
		t.Fatalf("add-ons inside their window must stay active: %+v", details)
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "user-1" {
		t.Fatalf("expected cache invalidated once, got %v", f.cache.invalidated)
	}

	// Second run finds no lapsed windows left.
	f.jobs.DeactivateLapsedAddons()
	if len(f.cache.invalidated) != 1 {
		t.Fatalf("second sweep must be a no-op, invalidations: %v", f.cache.invalidated)
	}
}

func TestReconcileDuplicateActives_KeepsNewest(t *testing.T) {
	f := newJobsFixture()
	now := time.Now()
	end := now.AddDate(0, 1, 0)

	oldestID := f.seed("user-dup", domain.StatusActive, end, now.AddDate(0, 0, -20))
	middleID := f.seed("user-dup", domain.StatusActive, end, now.AddDate(0, 0, -10))
	newestID := f.seed("user-dup", domain.StatusActive, end, now.AddDate(0, 0, -1))
	singleID := f.seed("user-single", domain.StatusActive, end, now.AddDate(0, 0, -5))

	f.jobs.ReconcileDuplicateActives()

	if got := f.repo.subs[newestID].Status; got != domain.StatusActive {
		t.Fatalf("newest active subscription must be kept, got %q", got)
	}
	for _, id := range []string{oldestID, middleID} {
		dup := f.repo.subs[id]
		if dup.Status != domain.StatusCancelled {
			t.Fatalf("expected duplicate %s cancelled, got %q", id, dup.Status)
		}
		if dup.CancelledAt == nil || dup.CancellationReason == "" {
			t.Fatalf("cancelled duplicate must carry a reason and timestamp: %+v", dup)
		}
		if dup.AutoRenew || dup.NextBillingDate != nil {
			t.Fatalf("cancelled duplicate must not keep billing fields: %+v", dup)
		}
	}
	if got := f.repo.subs[singleID].Status; got != domain.StatusActive {
		t.Fatalf("user with a single active subscription must be untouched, got %q", got)
	}

	// The notification system hears about each cancellation.
	var cancelledEvents int
	for _, e := range f.publisher.events {
		if e.routingKey != domain.RoutingKeyCancelled {
			continue
		}
		cancelledEvents++
		payload, ok := e.body.(domain.SubscriptionCancelledEvent)
		if !ok {
			t.Fatalf("unexpected event payload type %T", e.body)
		}
		if payload.UserID != "user-dup" || payload.Reason == "" {
			t.Fatalf("unexpected cancelled event payload: %+v", payload)
		}
	}
	if cancelledEvents != 2 {
		t.Fatalf("expected a cancelled event per duplicate, got %d", cancelledEvents)
	}

	// Exactly one active subscription per user remains.
	active, err := f.repo.ListActiveByUserID(context.Background(), "user-dup")
	if err != nil || len(active) != 1 || active[0].ID != newestID {
		t.Fatalf("expected only the newest active to remain, got %v (err %v)", active, err)
	}
}
