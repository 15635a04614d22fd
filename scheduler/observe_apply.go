package scheduler

import (
	"context"
	"fmt"
	"time"

	"adbudget/bandit"
	"adbudget/domain"
	"adbudget/ingest"
	"adbudget/logger"
)

// pollerFor returns the shared Poller for a platform, lazily constructing
// one (unrated, since a Cycle built directly by a test has no configured
// per-platform qps) if the Supervisor never populated c.pollers for it.
func (c *Cycle) pollerFor(platName string) *ingest.Poller {
	if p, ok := c.pollers[platName]; ok {
		return p
	}
	p := ingest.NewPoller(c.platforms[platName], c.st.Metrics(), c.scorer, 0)
	c.pollers[platName] = p
	return p
}

// observe drains each platform's shared Poller for this campaign's arms
// and feeds every accepted, non-suspect point into the posterior via
// UpdatePosterior. It never calls FetchMetrics itself — polling is an
// independent background task (C4.DrainPendingFor) so a campaign's cycle
// is never blocked on network I/O or retry backoff. Reward mapping
// resolves Open Question #1: conversions are successes, clicks minus
// conversions are failures for the Beta update; ROAS only feeds the risk
// filter via the posterior's reward_sum/reward_sq_sum accumulators, never
// the alpha/beta pair directly. A metric scored QualitySuspect (V3/V4
// failed) is persisted but skipped here, left for an operator to accept.
func (c *Cycle) observe(ctx context.Context, campaign domain.Campaign, arms []domain.Arm, now time.Time) error {
	byPlatform := make(map[string][]uint64)
	for _, a := range arms {
		byPlatform[a.Platform] = append(byPlatform[a.Platform], a.ID)
	}

	for platName, armIDs := range byPlatform {
		if _, ok := c.platforms[platName]; !ok {
			logger.Warnf("⚠️ campaign %d: no platform adapter registered for %q, skipping drain", campaign.ID, platName)
			continue
		}
		poller := c.pollerFor(platName)

		armIndex := make(map[string]uint64, len(arms))
		for _, a := range arms {
			if a.Platform == platName {
				armIndex[a.Key()] = a.ID
			}
		}
		poller.SetArmIndex(armIndex)

		for _, m := range poller.DrainPendingFor(armIDs, maxDrainBatch) {
			if m.Quality == domain.QualitySuspect {
				logger.Warnf("⚠️ campaign %d: arm %d: skipping posterior update for suspect metric at %s", campaign.ID, m.ArmID, m.TS)
				continue
			}
			impressions := m.Impressions
			if c.banditCfg.MaxTrialsPerCycle > 0 && float64(impressions) > c.banditCfg.MaxTrialsPerCycle {
				impressions = int64(c.banditCfg.MaxTrialsPerCycle)
			}
			success, failure := m.RewardComponents()
			if _, err := c.st.Posteriors().UpdatePosterior(m.ArmID, success, failure, m.ROAS(), m.Cost, impressions, now); err != nil {
				return fmt.Errorf("update posterior for arm %d: %w", m.ArmID, err)
			}
		}
	}
	return nil
}

// apply journals the intended allocation before pushing bids (crash
// recovery), pushes each changed arm's bid to its platform, clears the
// journal entry on confirmed success, and persists the change-log
// records the decision emitted.
func (c *Cycle) apply(ctx context.Context, campaign domain.Campaign, arms []domain.Arm, decision bandit.Decision, now time.Time) error {
	byID := make(map[uint64]domain.Arm, len(arms))
	for _, a := range arms {
		byID[a.ID] = a
	}

	for armID, alloc := range decision.NewAlloc {
		if err := c.st.Intended().Journal(campaign.ID, armID, alloc, now); err != nil {
			logger.Errorf("[scheduler] campaign %d: failed to journal intended allocation for arm %d: %v", campaign.ID, armID, err)
		}
	}

	changedArms := make(map[uint64]bool, len(decision.Changes))
	for _, ch := range decision.Changes {
		changedArms[ch.ArmID] = true
	}

	var pushAttempts, pushFailures int
	for armID := range changedArms {
		arm, ok := byID[armID]
		if !ok || arm.Disabled {
			continue
		}
		plat, ok := c.platforms[arm.Platform]
		if !ok {
			continue
		}
		bid := arm.Bid * decision.NewAlloc[armID] * decision.BudgetScale * allocationScaleUnit
		if err := c.cycleSem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire platform-call slot: %w", err)
		}
		pushAttempts++
		err := plat.SetBid(ctx, arm.Key(), bid)
		c.cycleSem.Release(1)
		if err != nil {
			pushFailures++
			logger.Errorf("[scheduler] campaign %d: failed to set bid for arm %d: %v", campaign.ID, armID, err)
			continue
		}
		if err := c.st.Intended().Clear(campaign.ID, armID); err != nil {
			logger.Errorf("[scheduler] campaign %d: failed to clear journal for arm %d: %v", campaign.ID, armID, err)
		}
	}

	for _, ch := range decision.Changes {
		if _, err := c.st.Changes().AppendChange(ch); err != nil {
			return fmt.Errorf("append change log: %w", err)
		}
	}

	if pushAttempts > 0 && pushFailures == pushAttempts {
		return fmt.Errorf("all %d bid pushes failed this cycle", pushAttempts)
	}
	return nil
}

// allocationScaleUnit converts a normalized allocation share back into a
// bid multiplier on top of the arm's configured base bid. A share of 1
// (all budget on one arm) leaves the base bid unscaled.
const allocationScaleUnit = 1.0
