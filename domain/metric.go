package domain

import (
	"fmt"
	"time"
)

// MetricSource is the provenance of a Metric row.
type MetricSource string

const (
	SourcePoll     MetricSource = "poll"
	SourceWebhook  MetricSource = "webhook"
	SourceBackfill MetricSource = "backfill"
)

// MetricQuality flags whether a metric passed anomaly/consistency checks.
type MetricQuality string

const (
	QualityOK      MetricQuality = "ok"
	QualitySuspect MetricQuality = "suspect"
)

// Metric is a time-series row owned by the posterior store. Derived
// CTR/CVR/ROAS are computed on demand, never stored as the source of truth.
type Metric struct {
	ArmID       uint64
	TS          time.Time
	Impressions int64
	Clicks      int64
	Conversions int64
	Cost        float64
	Revenue     float64
	Source      MetricSource
	Quality     MetricQuality
}

// roasEpsilon guards against division by zero in ROAS/CTR/CVR when cost or
// impressions are zero.
const roasEpsilon = 1e-9

// CTR is clicks/impressions.
func (m Metric) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}

// CVR is conversions/clicks.
func (m Metric) CVR() float64 {
	if m.Clicks == 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Clicks)
}

// ROAS is revenue / max(cost, epsilon).
func (m Metric) ROAS() float64 {
	cost := m.Cost
	if cost < roasEpsilon {
		cost = roasEpsilon
	}
	return m.Revenue / cost
}

// ValidateMetric runs the required-field and type/range checks (V1, V2).
// Cross-field consistency (V3) and anomaly scoring (V4) are scored by the
// ingest package, which has access to rolling per-arm history.
func ValidateMetric(m Metric) error {
	if m.ArmID == 0 {
		return fmt.Errorf("domain: metric missing arm_id")
	}
	if m.TS.IsZero() {
		return fmt.Errorf("domain: metric missing ts")
	}
	if m.Impressions < 0 || m.Clicks < 0 || m.Conversions < 0 || m.Cost < 0 || m.Revenue < 0 {
		return fmt.Errorf("domain: metric fields must be non-negative")
	}
	if m.Clicks > m.Impressions {
		return fmt.Errorf("domain: clicks (%d) must be <= impressions (%d)", m.Clicks, m.Impressions)
	}
	if m.Conversions > m.Clicks {
		return fmt.Errorf("domain: conversions (%d) must be <= clicks (%d)", m.Conversions, m.Clicks)
	}
	if m.Cost == 0 && m.Revenue != 0 {
		return fmt.Errorf("domain: cost=0 implies revenue=0, got revenue=%f", m.Revenue)
	}
	switch m.Source {
	case SourcePoll, SourceWebhook, SourceBackfill:
	default:
		return fmt.Errorf("domain: unknown metric source %q", m.Source)
	}
	return nil
}

// PlausibleROASBounds is the default [0, 100] ROAS sanity window checked by
// V3 in the ingest package.
var PlausibleROASBounds = [2]float64{0, 100}

// RewardComponents maps a metric onto the Beta-posterior's (success,
// failure) reward pair per the engine's reward-signal decision:
// conversions are successes, the remaining clicks are failures. Shared by
// the scheduler's poll-drain path and the webhook's delta-triggered
// re-evaluation so the mapping is defined exactly once.
func (m Metric) RewardComponents() (success, failure float64) {
	return float64(m.Conversions), float64(m.Clicks - m.Conversions)
}
