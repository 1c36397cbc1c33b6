/**
 * @description
 * Snapshot building: freezing plan and add-on catalog definitions onto a
 * subscription at purchase time. Catalog failures are soft here. A plan that
 * no longer resolves yields a nil snapshot and the subscription proceeds;
 * add-ons that fail to resolve are skipped. Entitlement resolution treats the
 * gaps as least privilege, so a degraded catalog never breaks checkout or
 * feature gating.
 */
package app

import (
	"context"

	"github.com/homevia/subscription-service/internal/domain"
)

// buildPlanSnapshot resolves the plan and deep-copies it into a snapshot.
// Returns nil when the plan cannot be resolved.
func (s *Service) buildPlanSnapshot(ctx context.Context, planID string) *domain.PlanSnapshot {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		s.logger.Warn("could not resolve plan for snapshot, subscription proceeds without one",
			"plan_id", planID, "error", err)
		return nil
	}
	return domain.NewPlanSnapshot(plan)
}

// buildAddonsSnapshot resolves each add-on id and snapshots the survivors,
// skipping ids that no longer resolve.
func (s *Service) buildAddonsSnapshot(ctx context.Context, addonIDs []string) []domain.AddonSnapshot {
	var snapshots []domain.AddonSnapshot
	for _, id := range addonIDs {
		addon, err := s.catalog.GetAddon(ctx, id)
		if err != nil {
			s.logger.Warn("could not resolve addon for snapshot, skipping",
				"addon_id", id, "error", err)
			continue
		}
		snapshots = append(snapshots, domain.NewAddonSnapshot(addon))
	}
	return snapshots
}

// missingAddonIDs lists attached add-on ids that have no frozen snapshot yet.
func (s *Service) missingAddonIDs(sub *domain.Subscription) []string {
	var missing []string
	for _, id := range sub.AddonIDs {
		if sub.AddonSnapshotFor(id) == nil {
			missing = append(missing, id)
		}
	}
	return missing
}
