package ingest

import (
	"testing"
	"time"

	"adbudget/domain"
)

func metricWithROAS(armID uint64, cost, revenue float64) domain.Metric {
	return domain.Metric{
		ArmID: armID, TS: time.Now().UTC(),
		Impressions: 1000, Clicks: 50, Conversions: 5,
		Cost: cost, Revenue: revenue, Source: domain.SourcePoll,
	}
}

func TestAnomalyScorerFlagsOutOfBoundsROAS(t *testing.T) {
	s := NewAnomalyScorer(3.0, 50)
	q := s.Score(metricWithROAS(1, 1, 200)) // ROAS=200, above PlausibleROASBounds[1]=100
	if q != domain.QualitySuspect {
		t.Errorf("Score for ROAS=200 = %v, want QualitySuspect", q)
	}
}

func TestAnomalyScorerAcceptsInBoundsROASWithNoHistory(t *testing.T) {
	s := NewAnomalyScorer(3.0, 50)
	q := s.Score(metricWithROAS(1, 10, 20)) // ROAS=2
	if q != domain.QualityOK {
		t.Errorf("Score for a plausible first observation = %v, want QualityOK", q)
	}
}

func TestAnomalyScorerFlagsZScoreOutlierAgainstStableHistory(t *testing.T) {
	s := NewAnomalyScorer(3.0, 50)
	for i := 0; i < 10; i++ {
		s.Score(metricWithROAS(7, 10, 20)) // stable ROAS=2 history
	}
	q := s.Score(metricWithROAS(7, 10, 95)) // ROAS=9.5, a wild jump but still within bounds
	if q != domain.QualitySuspect {
		t.Errorf("Score for a z-score outlier vs. stable history = %v, want QualitySuspect", q)
	}
}

func TestAnomalyScorerHistoryIsPerArm(t *testing.T) {
	s := NewAnomalyScorer(3.0, 50)
	for i := 0; i < 10; i++ {
		s.Score(metricWithROAS(1, 10, 20))
	}
	// A brand new arm with no history must not inherit arm 1's distribution.
	q := s.Score(metricWithROAS(2, 10, 90))
	if q != domain.QualityOK {
		t.Errorf("a fresh arm's first observation = %v, want QualityOK (bounds-only check)", q)
	}
}

func TestAnomalyScorerWindowCapsHistoryLength(t *testing.T) {
	s := NewAnomalyScorer(3.0, 5)
	for i := 0; i < 20; i++ {
		s.Score(metricWithROAS(3, 10, 20))
	}
	if got := len(s.history[3]); got != 5 {
		t.Errorf("history length = %d, want capped at windowSize=5", got)
	}
}
