// Package ingest implements the metric ingestor (C4): a per-platform
// poller, a webhook HTTP surface, and anomaly/consistency scoring shared
// by both paths before a metric reaches the posterior store.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"adbudget/domain"
	"adbudget/logger"
	"adbudget/platform"
	"adbudget/store"
)

// retry backoff: base 1s, factor 2, capped at 60s, 5 attempts max —
// grounded on the teacher's MCP client retry loop, generalized from its
// linear base*attempt wait to an exponential one since the teacher's
// own comment calls out avoiding hammering a flaky upstream.
const (
	retryBase    = 1 * time.Second
	retryFactor  = 2
	retryMax     = 60 * time.Second
	retryAttempt = 5
)

// Poller fetches metrics from one AdPlatform on a schedule, rate-limited
// per platform, and writes them into the metric store. One Poller is
// shared across every campaign running arms on that platform (per
// platform, not per campaign), so armsByKey, lastPoll and pending are all
// guarded by mu.
type Poller struct {
	plat    platform.AdPlatform
	metrics *store.MetricStore
	limiter *rate.Limiter
	scorer  *AnomalyScorer

	mu        sync.Mutex
	armsByKey map[string]uint64          // arm_key -> arm_id, merged in by every campaign sharing this platform
	lastPoll  time.Time
	pending   map[uint64][]domain.Metric // arm_id -> metrics accepted since the last drain
}

// NewPoller constructs a Poller for one ad platform. qps<=0 disables
// limiting (used by mockplatform in tests).
func NewPoller(plat platform.AdPlatform, metrics *store.MetricStore, scorer *AnomalyScorer, qps float64) *Poller {
	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}
	return &Poller{
		plat:      plat,
		metrics:   metrics,
		scorer:    scorer,
		limiter:   limiter,
		armsByKey: map[string]uint64{},
		pending:   map[uint64][]domain.Metric{},
	}
}

// SetArmIndex merges arm_key -> arm_id entries into the lookup used to
// attach metric points (which only know the platform's arm_key) to local
// arm rows. Merge, not replace: several campaigns on the same platform
// each call this with their own arms and must not clobber one another.
func (p *Poller) SetArmIndex(idx map[string]uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range idx {
		p.armsByKey[k] = v
	}
}

// Poll fetches metrics since the last successful poll (or 24h ago on
// first run) and records them, retrying transient failures with capped
// exponential backoff.
func (p *Poller) Poll(ctx context.Context, now time.Time) (int, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("ingest: rate limiter wait for %s: %w", p.plat.Name(), err)
		}
	}

	p.mu.Lock()
	since := p.lastPoll
	p.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}

	var points []platform.MetricPoint
	var err error
	wait := retryBase
	for attempt := 1; attempt <= retryAttempt; attempt++ {
		points, err = p.plat.FetchMetrics(ctx, since)
		if err == nil {
			break
		}
		if attempt == retryAttempt {
			return 0, fmt.Errorf("ingest: poll %s failed after %d attempts: %w", p.plat.Name(), attempt, err)
		}
		logger.WithFields(logrus.Fields{"platform": p.plat.Name(), "attempt": attempt, "max_attempts": retryAttempt, "wait": wait}).
			Warnf("poll failed, retrying: %v", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
		wait *= retryFactor
		if wait > retryMax {
			wait = retryMax
		}
	}

	p.mu.Lock()
	p.lastPoll = now
	p.mu.Unlock()

	accepted := 0
	for _, pt := range points {
		p.mu.Lock()
		armID, ok := p.armsByKey[pt.ArmKey]
		p.mu.Unlock()
		if !ok {
			logger.Warnf("⚠️ poll %s: unknown arm_key %q, dropping point", p.plat.Name(), pt.ArmKey)
			continue
		}
		m := domain.Metric{
			ArmID:       armID,
			TS:          pt.TS,
			Impressions: pt.Impressions,
			Clicks:      pt.Clicks,
			Conversions: pt.Conversions,
			Cost:        pt.Cost,
			Revenue:     pt.Revenue,
			Source:      domain.SourcePoll,
			Quality:     domain.QualityOK,
		}
		if err := domain.ValidateMetric(m); err != nil {
			logger.Warnf("⚠️ poll %s: rejecting invalid metric for arm %d: %v", p.plat.Name(), armID, err)
			continue
		}
		if p.scorer != nil {
			m.Quality = p.scorer.Score(m)
		}
		if _, err := p.metrics.RecordMetric(m); err != nil {
			return accepted, fmt.Errorf("ingest: record poll metric for arm %d: %w", armID, err)
		}
		p.mu.Lock()
		p.pending[armID] = append(p.pending[armID], m)
		p.mu.Unlock()
		accepted++
	}
	return accepted, nil
}

// DrainPendingFor removes and returns the accumulated metrics for the
// given arms, non-blocking and bounded by maxBatch total metrics. It is
// the only way a Cycle observes poll-sourced data: C4.DrainPendingFor per
// the scheduling model, so a campaign's cycle never blocks on network I/O
// or retry backoff that belongs to the independent poller task.
func (p *Poller) DrainPendingFor(armIDs []uint64, maxBatch int) []domain.Metric {
	p.mu.Lock()
	defer p.mu.Unlock()

	var drained []domain.Metric
	for _, armID := range armIDs {
		queue := p.pending[armID]
		if len(queue) == 0 {
			continue
		}
		room := maxBatch - len(drained)
		if room <= 0 {
			break
		}
		if len(queue) > room {
			drained = append(drained, queue[:room]...)
			p.pending[armID] = queue[room:]
		} else {
			drained = append(drained, queue...)
			delete(p.pending, armID)
		}
	}
	return drained
}

// Run polls on a fixed interval until ctx is cancelled. It is the
// independent background task the scheduling model describes: one per
// platform, decoupled from any single campaign's cadence. Poll errors are
// logged and do not stop the loop — a campaign's cycle simply drains
// whatever accumulated before the failure started.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx, time.Now()); err != nil {
				logger.Errorf("❌ poll %s: %v", p.plat.Name(), err)
			}
		}
	}
}
