package scheduler

import (
	"fmt"

	"adbudget/domain"
)

// loadPrevAlloc reconstructs each arm's current allocation share from the
// most recent change-log entry, defaulting to 0 for arms with no history
// yet (their first decision treats them as starting from scratch).
func (c *Cycle) loadPrevAlloc(campaignID uint64, armIDs []uint64) (map[uint64]float64, error) {
	latest, err := c.st.Changes().LatestByArm(campaignID)
	if err != nil {
		return nil, fmt.Errorf("load latest allocations: %w", err)
	}
	out := make(map[uint64]float64, len(armIDs))
	for _, id := range armIDs {
		out[id] = latest[id]
	}
	return out, nil
}

// loadAdStock reads the persisted carryover stock for each arm.
func (c *Cycle) loadAdStock(armIDs []uint64) (map[uint64]float64, error) {
	return c.st.AdStock().LoadForArms(armIDs)
}

// budgetSnapshot computes RemainingBudget (total budget minus cumulative
// spend recorded in every arm's posterior) and a projected EstimatedCycleSpend
// as the sum of every enabled arm's current bid; allocation shares are not
// taken into account.
func (c *Cycle) budgetSnapshot(campaign domain.Campaign, arms []domain.Arm, posteriors map[uint64]domain.ArmPosterior) (remaining, estimatedCycleSpend float64) {
	spentSoFar := 0.0
	for _, a := range arms {
		if p, ok := posteriors[a.ID]; ok {
			spentSoFar += p.Spend
		}
	}
	remaining = campaign.TotalBudget - spentSoFar

	for _, a := range arms {
		if a.Disabled {
			continue
		}
		estimatedCycleSpend += a.Bid
	}
	return remaining, estimatedCycleSpend
}
