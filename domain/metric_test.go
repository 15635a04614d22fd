package domain

import (
	"testing"
	"time"
)

func TestMetricDerivedRates(t *testing.T) {
	m := Metric{Impressions: 1000, Clicks: 50, Conversions: 5, Cost: 100, Revenue: 300}
	if got := m.CTR(); got != 0.05 {
		t.Errorf("CTR = %v, want 0.05", got)
	}
	if got := m.CVR(); got != 0.1 {
		t.Errorf("CVR = %v, want 0.1", got)
	}
	if got := m.ROAS(); got != 3.0 {
		t.Errorf("ROAS = %v, want 3.0", got)
	}
}

func TestMetricZeroDenominators(t *testing.T) {
	m := Metric{}
	if got := m.CTR(); got != 0 {
		t.Errorf("CTR with 0 impressions = %v, want 0", got)
	}
	if got := m.CVR(); got != 0 {
		t.Errorf("CVR with 0 clicks = %v, want 0", got)
	}
	if got := m.ROAS(); got != 0 {
		t.Errorf("ROAS with 0 cost and 0 revenue = %v, want 0", got)
	}
}

func TestValidateMetric(t *testing.T) {
	base := Metric{ArmID: 1, TS: time.Now(), Impressions: 100, Clicks: 10, Conversions: 2, Cost: 5, Revenue: 20, Source: SourcePoll}
	if err := ValidateMetric(base); err != nil {
		t.Fatalf("valid metric rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(Metric) Metric
	}{
		{"missing arm_id", func(m Metric) Metric { m.ArmID = 0; return m }},
		{"missing ts", func(m Metric) Metric { m.TS = time.Time{}; return m }},
		{"negative field", func(m Metric) Metric { m.Cost = -1; return m }},
		{"clicks exceed impressions", func(m Metric) Metric { m.Clicks = 1000; return m }},
		{"conversions exceed clicks", func(m Metric) Metric { m.Conversions = 1000; return m }},
		{"cost zero but revenue nonzero", func(m Metric) Metric { m.Cost = 0; return m }},
		{"unknown source", func(m Metric) Metric { m.Source = "carrier-pigeon"; return m }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateMetric(tt.mutate(base)); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}
