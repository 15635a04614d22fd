package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"adbudget/bandit"
	"adbudget/changelog"
	"adbudget/domain"
	"adbudget/ingest"
	"adbudget/logger"
	"adbudget/platform"
	"adbudget/store"
)

// Supervisor owns one Cycle per active campaign, grounded on the teacher's
// TraderManager: a map of running instances guarded by a mutex, StartAll /
// StopAll entry points, and an auto-restore pass over whatever was left
// running in the database when the process last exited.
type Supervisor struct {
	st        *store.Store
	platforms map[string]platform.AdPlatform
	banditCfg bandit.Config
	alerts    *changelog.AlertSink

	// pollers holds one Poller per platform, shared by every campaign's
	// Cycle that touches it, and driven by StartPollers as an independent
	// background task per the scheduling model.
	pollers map[string]*ingest.Poller

	cycleSem *semaphore.Weighted // caps concurrent in-flight platform calls across all campaigns

	mu     sync.Mutex
	cycles map[uint64]*Cycle
	cancel map[uint64]context.CancelFunc
}

// NewSupervisor builds a Supervisor. maxConcurrentCycles <= 0 resolves to
// runtime.NumCPU()*4, matching config.Config.MaxConcurrentCycles's documented
// zero-value behavior. scorer may be nil (no anomaly gating); pollRates
// maps platform name -> qps, missing entries disabling rate limiting for
// that platform (0 <= 0).
func NewSupervisor(st *store.Store, platforms map[string]platform.AdPlatform, banditCfg bandit.Config, alerts *changelog.AlertSink, maxConcurrentCycles int, scorer *ingest.AnomalyScorer, pollRates map[string]float64) *Supervisor {
	if maxConcurrentCycles <= 0 {
		maxConcurrentCycles = runtime.NumCPU() * 4
	}
	pollers := make(map[string]*ingest.Poller, len(platforms))
	for name, plat := range platforms {
		pollers[name] = ingest.NewPoller(plat, st.Metrics(), scorer, pollRates[name])
	}
	return &Supervisor{
		st:        st,
		platforms: platforms,
		banditCfg: banditCfg,
		alerts:    alerts,
		pollers:   pollers,
		cycleSem:  semaphore.NewWeighted(int64(maxConcurrentCycles)),
		cycles:    make(map[uint64]*Cycle),
		cancel:    make(map[uint64]context.CancelFunc),
	}
}

// StartPollers launches one background goroutine per platform poller,
// each fetching on its own interval until ctx is cancelled — the
// "independent task" the scheduling model assigns to each platform
// poller, decoupled from any campaign's own cadence.
func (sup *Supervisor) StartPollers(ctx context.Context, interval time.Duration) {
	for name, p := range sup.pollers {
		logger.Infof("📡 starting poller for platform %q (interval %s)", name, interval)
		go p.Run(ctx, interval)
	}
}

// StartRetentionSweep runs the change log's cold-storage retention sweep
// on a fixed interval, deleting rows older than olderThan and checkpointing
// the store afterward. This is the scheduler's housekeeping task referenced
// by store.ChangeStore.RetentionSweep's doc comment.
func (sup *Supervisor) StartRetentionSweep(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-olderThan)
				n, err := sup.st.Changes().RetentionSweep(cutoff)
				if err != nil {
					logger.Errorf("❌ retention sweep: %v", err)
					continue
				}
				if n > 0 {
					logger.Infof("🧹 retention sweep: removed %d change-log rows older than %s", n, cutoff)
				}
				if err := sup.st.Checkpoint(); err != nil {
					logger.Errorf("❌ retention sweep: checkpoint: %v", err)
				}
			}
		}
	}()
}

// Reconcile replays any crash-recovery journal entries left behind by a
// process that died mid-apply, re-issuing the bid push for each one before
// any campaign starts its own cycle loop. Grounded on the teacher's
// AutoStartRunningTraders startup pass, generalized from "resume a trader"
// to "finish an interrupted bid push".
func (sup *Supervisor) Reconcile(ctx context.Context) error {
	pending, err := sup.st.Intended().ListAll()
	if err != nil {
		return fmt.Errorf("supervisor: list intended allocations: %w", err)
	}
	if len(pending) == 0 {
		logger.Info("📋 no pending intended-allocation journal entries to reconcile")
		return nil
	}
	logger.Infof("🔄 reconciling %d pending intended-allocation journal entries", len(pending))

	armCache := make(map[uint64]domain.Arm)
	resolved := 0
	for _, entry := range pending {
		arm, ok := armCache[entry.ArmID]
		if !ok {
			arms, err := sup.st.Arms().ListByCampaign(entry.CampaignID)
			if err != nil {
				logger.Errorf("⚠️ reconcile: load arms for campaign %d: %v", entry.CampaignID, err)
				continue
			}
			for _, a := range arms {
				armCache[a.ID] = a
			}
			arm, ok = armCache[entry.ArmID]
		}
		if !ok {
			logger.Warnf("⚠️ reconcile: arm %d not found, dropping stale journal entry", entry.ArmID)
			_ = sup.st.Intended().Clear(entry.CampaignID, entry.ArmID)
			continue
		}
		plat, ok := sup.platforms[arm.Platform]
		if !ok {
			logger.Warnf("⚠️ reconcile: no adapter registered for platform %q, leaving journal entry %d/%d for next attempt", arm.Platform, entry.CampaignID, entry.ArmID)
			continue
		}
		bid := arm.Bid * entry.Alloc
		if err := plat.SetBid(ctx, arm.Key(), bid); err != nil {
			logger.Errorf("⚠️ reconcile: push bid for arm %d: %v", entry.ArmID, err)
			continue
		}
		if err := sup.st.Intended().Clear(entry.CampaignID, entry.ArmID); err != nil {
			logger.Errorf("⚠️ reconcile: clear journal entry for arm %d: %v", entry.ArmID, err)
			continue
		}
		resolved++
	}
	logger.Infof("✓ reconciled %d/%d pending intended-allocation journal entries", resolved, len(pending))
	return nil
}

// StartAll starts a Cycle goroutine for every campaign currently marked
// Active, mirroring the teacher's AutoStartRunningTraders restore-on-boot
// behavior against campaign status instead of an explicit is_running flag.
func (sup *Supervisor) StartAll(ctx context.Context) error {
	campaigns, err := sup.st.Campaigns().ListByStatus(domain.StatusActive)
	if err != nil {
		return fmt.Errorf("supervisor: list active campaigns: %w", err)
	}
	logger.Infof("🚀 starting %d active campaigns", len(campaigns))
	for _, c := range campaigns {
		sup.Start(ctx, c.ID)
	}
	return nil
}

// Start launches a Cycle for a single campaign if it isn't already running.
func (sup *Supervisor) Start(ctx context.Context, campaignID uint64) {
	sup.mu.Lock()
	if _, running := sup.cycles[campaignID]; running {
		sup.mu.Unlock()
		return
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	cycle := NewCycle(campaignID, sup.st, sup.platforms, sup.banditCfg, sup.alerts, sup.cycleSem)
	cycle.pollers = sup.pollers
	sup.cycles[campaignID] = cycle
	sup.cancel[campaignID] = cancel
	sup.mu.Unlock()

	go func() {
		logger.Infof("▶️ campaign %d: cycle loop starting", campaignID)
		if err := cycle.Run(cycleCtx); err != nil && err != context.Canceled {
			logger.Errorf("❌ campaign %d: cycle loop exited with error: %v", campaignID, err)
		}
	}()
}

// Stop signals the named campaign's cycle to stop after its current pass
// and removes it from the running set. It blocks until the cycle's
// goroutine has returned.
func (sup *Supervisor) Stop(campaignID uint64) {
	sup.mu.Lock()
	cycle, ok := sup.cycles[campaignID]
	cancel := sup.cancel[campaignID]
	delete(sup.cycles, campaignID)
	delete(sup.cancel, campaignID)
	sup.mu.Unlock()

	if !ok {
		return
	}
	cycle.Stop()
	cycle.Wait()
	if cancel != nil {
		cancel()
	}
}

// StopAll drains every running campaign concurrently, bounded by timeout.
// Campaigns still draining when timeout elapses are force-cancelled via
// their context rather than left to block shutdown indefinitely.
func (sup *Supervisor) StopAll(timeout time.Duration) {
	sup.mu.Lock()
	ids := make([]uint64, 0, len(sup.cycles))
	cancels := make([]context.CancelFunc, 0, len(sup.cycles))
	for id := range sup.cycles {
		ids = append(ids, id)
		cancels = append(cancels, sup.cancel[id])
	}
	sup.mu.Unlock()

	logger.Infof("⏹ draining %d running campaigns (timeout %s)", len(ids), timeout)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(campaignID uint64) {
				defer wg.Done()
				sup.Stop(campaignID)
			}(id)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("✓ all campaigns drained cleanly")
	case <-time.After(timeout):
		logger.Warnf("⚠️ drain timeout (%s) exceeded, %d campaign(s) may still be finishing a cycle", timeout, len(ids))
		for _, cancel := range cancels {
			if cancel != nil {
				cancel()
			}
		}
	}
}

// Running reports whether a Cycle is currently active for campaignID.
func (sup *Supervisor) Running(campaignID uint64) bool {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	_, ok := sup.cycles[campaignID]
	return ok
}
