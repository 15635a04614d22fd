package ingest

import (
	"sync"

	"github.com/montanaflynn/stats"

	"adbudget/domain"
)

// AnomalyScorer flags metrics whose ROAS deviates more than Z standard
// deviations from an arm's rolling ROAS history, or falls outside
// domain.PlausibleROASBounds (V3/V4). Flagged metrics are still recorded
// (never dropped) but marked QualitySuspect; the scheduler's observe step
// and the webhook's out-of-cycle update skip them when updating posteriors.
type AnomalyScorer struct {
	z          float64
	windowSize int

	mu      sync.Mutex
	history map[uint64][]float64 // arm_id -> recent ROAS observations
}

// NewAnomalyScorer constructs a scorer with a z-score threshold (spec.md
// default 3.0) and a rolling window size per arm.
func NewAnomalyScorer(z float64, windowSize int) *AnomalyScorer {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &AnomalyScorer{z: z, windowSize: windowSize, history: make(map[uint64][]float64)}
}

// Score evaluates m against the arm's rolling ROAS distribution and the
// plausible-bounds sanity window, returning the quality flag to persist.
// It also folds m's ROAS into the rolling history for future calls.
func (a *AnomalyScorer) Score(m domain.Metric) domain.MetricQuality {
	roas := m.ROAS()
	quality := domain.QualityOK

	if roas < domain.PlausibleROASBounds[0] || roas > domain.PlausibleROASBounds[1] {
		quality = domain.QualitySuspect
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.history[m.ArmID]
	if len(hist) >= 5 {
		mean, err1 := stats.Mean(hist)
		sd, err2 := stats.StandardDeviation(hist)
		if err1 == nil && err2 == nil && sd > 0 {
			zscore := (roas - mean) / sd
			if zscore < 0 {
				zscore = -zscore
			}
			if zscore > a.z {
				quality = domain.QualitySuspect
			}
		} else if err1 == nil && err2 == nil && sd == 0 && roas != mean {
			// A constant history has zero spread, so any departure from it
			// is an unbounded z-score.
			quality = domain.QualitySuspect
		}
	}

	hist = append(hist, roas)
	if len(hist) > a.windowSize {
		hist = hist[len(hist)-a.windowSize:]
	}
	a.history[m.ArmID] = hist

	return quality
}
