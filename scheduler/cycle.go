// Package scheduler implements the service loop (C5): one goroutine per
// active campaign running an observe -> decide -> apply -> log cycle on
// its own cadence, supervised by a Supervisor that tracks lifecycle,
// enforces concurrency limits, and handles graceful drain/restart.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"adbudget/bandit"
	"adbudget/changelog"
	"adbudget/domain"
	"adbudget/ingest"
	"adbudget/logger"
	"adbudget/platform"
	"adbudget/store"
)

// defaultAnomalyZ/defaultAnomalyWindow seed a Cycle's fallback anomaly
// scorer when the Supervisor didn't hand it a shared one (e.g. tests
// constructing a Cycle directly) — same defaults config.Init documents
// for AnomalyZ. maxDrainBatch bounds one cycle's non-blocking poll-drain,
// per spec's "bounded batch" DrainPendingFor note.
const (
	defaultAnomalyZ      = 3.0
	defaultAnomalyWindow = 30
	maxDrainBatch        = 500
)

// Cycle drives a single campaign's decision loop, grounded on the
// teacher's AutoTrader.Run/Stop/runCycle ticker+stop-channel structure,
// generalized to the bandit's observe/decide/apply/log pipeline.
type Cycle struct {
	campaignID uint64

	st        *store.Store
	platforms map[string]platform.AdPlatform // platform name -> adapter
	banditCfg bandit.Config
	alerts    *changelog.AlertSink

	// pollers is shared with the Supervisor (one Poller per platform,
	// not per campaign); observe() only ever drains it, never polls
	// directly. scorer is used to lazily construct a poller for a
	// platform this Cycle's Supervisor didn't pre-populate.
	pollers map[string]*ingest.Poller
	scorer  *ingest.AnomalyScorer

	cycleSem *semaphore.Weighted // per-platform-call concurrency cap

	isRunningMu sync.RWMutex
	isRunning   bool
	stopCh      chan struct{}
	wg          sync.WaitGroup

	consecutiveFailures int
}

// NewCycle constructs a Cycle for one campaign.
func NewCycle(campaignID uint64, st *store.Store, platforms map[string]platform.AdPlatform, banditCfg bandit.Config, alerts *changelog.AlertSink, platformCallSem *semaphore.Weighted) *Cycle {
	return &Cycle{
		campaignID: campaignID,
		st:         st,
		platforms:  platforms,
		banditCfg:  banditCfg,
		alerts:     alerts,
		cycleSem:   platformCallSem,
		pollers:    make(map[string]*ingest.Poller),
		scorer:     ingest.NewAnomalyScorer(defaultAnomalyZ, defaultAnomalyWindow),
	}
}

// Run executes cycles on the campaign's cadence until Stop is called or
// ctx is cancelled. It runs once immediately, then on each tick.
func (c *Cycle) Run(ctx context.Context) error {
	c.isRunningMu.Lock()
	c.isRunning = true
	c.stopCh = make(chan struct{})
	c.isRunningMu.Unlock()

	c.wg.Add(1)
	defer c.wg.Done()

	campaign, err := c.st.Campaigns().Get(c.campaignID)
	if err != nil {
		return fmt.Errorf("scheduler: load campaign %d: %w", c.campaignID, err)
	}
	cadence := time.Duration(campaign.CadenceMs) * time.Millisecond
	if cadence <= 0 {
		cadence = time.Duration(domain.DefaultCadenceMs) * time.Millisecond
	}

	if err := c.runOnce(ctx); err != nil {
		logger.Errorf("❌ campaign %d: cycle failed: %v", c.campaignID, err)
	}

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		c.isRunningMu.RLock()
		running := c.isRunning
		c.isRunningMu.RUnlock()
		if !running {
			return nil
		}

		select {
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				logger.Errorf("❌ campaign %d: cycle failed: %v", c.campaignID, err)
			}
		case <-c.stopCh:
			logger.Infof("⏹ campaign %d: stop signal received", c.campaignID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop signals Run to exit after its current cycle completes.
func (c *Cycle) Stop() {
	c.isRunningMu.Lock()
	defer c.isRunningMu.Unlock()
	if !c.isRunning {
		return
	}
	c.isRunning = false
	close(c.stopCh)
}

// Wait blocks until Run has returned.
func (c *Cycle) Wait() {
	c.wg.Wait()
}

// cycleTick derives the deterministic decision seed input: the number of
// whole cadence windows elapsed since the Unix epoch, so that two
// processes restarting at different wall-clock instants but landing in
// the same cadence window reach the same seed (and thus the same
// decision) for a given campaign.
func cycleTick(now time.Time, cadenceMs int64) int64 {
	if cadenceMs <= 0 {
		cadenceMs = domain.DefaultCadenceMs
	}
	return now.UnixMilli() / cadenceMs
}

// runOnce executes one observe -> decide -> apply -> log pass.
func (c *Cycle) runOnce(ctx context.Context) error {
	campaign, err := c.st.Campaigns().Get(c.campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != domain.StatusActive {
		return nil
	}

	arms, err := c.st.Arms().ListByCampaign(c.campaignID)
	if err != nil {
		return fmt.Errorf("load arms: %w", err)
	}
	if len(arms) == 0 {
		return nil
	}

	armIDs := make([]uint64, len(arms))
	for i, a := range arms {
		armIDs[i] = a.ID
	}

	now := time.Now()

	if err := c.observe(ctx, campaign, arms, now); err != nil {
		c.recordFailure(fmt.Errorf("observe: %w", err))
		return err
	}

	posteriors, err := c.st.Posteriors().Snapshot(armIDs)
	if err != nil {
		return fmt.Errorf("snapshot posteriors: %w", err)
	}

	prevAlloc, err := c.loadPrevAlloc(campaign.ID, armIDs)
	if err != nil {
		return fmt.Errorf("load previous allocation: %w", err)
	}

	adStockPrev, err := c.loadAdStock(armIDs)
	if err != nil {
		return fmt.Errorf("load ad-stock: %w", err)
	}

	mmmTable, err := c.st.MMM().LoadTable()
	if err != nil {
		return fmt.Errorf("load mmm table: %w", err)
	}

	remaining, estCycleSpend := c.budgetSnapshot(campaign, arms, posteriors)

	decisionCtx := bandit.DecisionContext{
		Now:                 now,
		CycleTick:           cycleTick(now, campaign.CadenceMs),
		RemainingBudget:     remaining,
		EstimatedCycleSpend: estCycleSpend,
		AdStockPrev:         adStockPrev,
	}

	decision, err := bandit.Decide(campaign, arms, posteriors, prevAlloc, mmmTable, c.banditCfg, decisionCtx)
	if err != nil {
		c.recordFailure(fmt.Errorf("decide: %w", err))
		return err
	}

	if err := c.apply(ctx, campaign, arms, decision, now); err != nil {
		c.recordFailure(fmt.Errorf("apply: %w", err))
		return err
	}

	if err := c.st.AdStock().SaveAll(decision.AdStock); err != nil {
		logger.Errorf("[scheduler] campaign %d: failed to persist ad-stock: %v", campaign.ID, err)
	}

	if decision.CampaignStatus != campaign.Status {
		if err := c.st.Campaigns().SetStatus(campaign.ID, decision.CampaignStatus); err != nil {
			logger.Errorf("[scheduler] campaign %d: failed to persist status %s: %v", campaign.ID, decision.CampaignStatus, err)
		}
		if decision.CampaignStatus == domain.StatusCompleted {
			logger.Infof("🏁 campaign %d: budget exhausted, marking Completed", campaign.ID)
		}
	}

	c.isRunningMu.Lock()
	c.consecutiveFailures = 0
	c.isRunningMu.Unlock()

	return nil
}

func (c *Cycle) recordFailure(err error) {
	c.isRunningMu.Lock()
	c.consecutiveFailures++
	failures := c.consecutiveFailures
	c.isRunningMu.Unlock()

	logger.WithFields(logrus.Fields{"campaign_id": c.campaignID, "consecutive_failures": failures}).
		Warnf("cycle failed: %v", err)

	if c.alerts != nil && failures >= changelog.AlertFailureThreshold {
		c.alerts.Notify(fmt.Sprintf("campaign %d: %d consecutive cycle failures, last error: %v", c.campaignID, failures, err))
	}
	if failures >= changelog.ErroredFailureThreshold {
		if err := c.st.Campaigns().SetStatus(c.campaignID, domain.StatusErrored); err != nil {
			logger.Errorf("[scheduler] campaign %d: failed to mark Errored: %v", c.campaignID, err)
		}
	}
}
