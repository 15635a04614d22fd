package bandit

import (
	"math"
	"testing"
	"time"

	"adbudget/domain"
)

func testCampaign() domain.Campaign {
	return domain.Campaign{ID: 1, Status: domain.StatusActive, RiskTolerance: 0.5, VarianceLimit: 1.0, TotalBudget: 1000, CadenceMs: domain.DefaultCadenceMs}
}

func testArms(n int) []domain.Arm {
	arms := make([]domain.Arm, n)
	for i := 0; i < n; i++ {
		arms[i] = domain.Arm{ID: uint64(i + 1), CampaignID: 1, Platform: "meta", Channel: "feed", Creative: string(rune('a' + i)), Bid: 1.0}
	}
	return arms
}

func TestDecideIsDeterministic(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(3)
	posteriors := map[uint64]domain.ArmPosterior{
		1: {ArmID: 1, Alpha: 5, Beta: 2},
		2: {ArmID: 2, Alpha: 2, Beta: 5},
		3: {ArmID: 3, Alpha: 3, Beta: 3},
	}
	prevAlloc := map[uint64]float64{1: 0.34, 2: 0.33, 3: 0.33}
	cfg := DefaultConfig()
	ctx := DecisionContext{Now: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC), CycleTick: 100, RemainingBudget: 500, EstimatedCycleSpend: 3}

	d1, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, v := range d1.NewAlloc {
		if d2.NewAlloc[id] != v {
			t.Errorf("Decide is not deterministic for arm %d: %v != %v", id, v, d2.NewAlloc[id])
		}
	}
}

func TestDecideAllocationSumsToOne(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(4)
	posteriors := map[uint64]domain.ArmPosterior{}
	prevAlloc := map[uint64]float64{}
	cfg := DefaultConfig()
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 1000, EstimatedCycleSpend: 4}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, v := range d.NewAlloc {
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("allocation shares must sum to 1 across eligible arms, got %v", sum)
	}
}

func TestDecideDisabledArmPinnedToZero(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(3)
	arms[1].Disabled = true
	posteriors := map[uint64]domain.ArmPosterior{}
	prevAlloc := map[uint64]float64{1: 0.5, 2: 0.2, 3: 0.3}
	cfg := DefaultConfig()
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 1000, EstimatedCycleSpend: 3}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc := d.NewAlloc[arms[1].ID]; alloc != 0 {
		t.Errorf("disabled arm must have allocation 0, got %v", alloc)
	}
	sum := 0.0
	for _, v := range d.NewAlloc {
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("remaining eligible arms must still sum to 1, got %v", sum)
	}
}

func TestDecideStepClipBoundsChange(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(2)
	// Heavily skewed posteriors that would otherwise want to swing hard
	// toward arm 1 in a single cycle.
	posteriors := map[uint64]domain.ArmPosterior{
		1: {ArmID: 1, Alpha: 1000, Beta: 1},
		2: {ArmID: 2, Alpha: 1, Beta: 1000},
	}
	prevAlloc := map[uint64]float64{1: 0.5, 2: 0.5}
	cfg := DefaultConfig()
	cfg.MaxStep = 0.1
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 1000, EstimatedCycleSpend: 2}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, newA := range d.NewAlloc {
		old := prevAlloc[id]
		if math.Abs(newA-old) > cfg.MaxStep+1e-9 {
			t.Errorf("arm %d moved by %v, exceeds MaxStep %v", id, math.Abs(newA-old), cfg.MaxStep)
		}
	}
}

func TestDecideBudgetExhaustionCompletesCampaign(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(2)
	posteriors := map[uint64]domain.ArmPosterior{}
	prevAlloc := map[uint64]float64{}
	cfg := DefaultConfig()
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 0, EstimatedCycleSpend: 2}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.CampaignStatus != domain.StatusCompleted {
		t.Errorf("exhausted budget must transition campaign to Completed, got %s", d.CampaignStatus)
	}
	if d.BudgetScale != 0 {
		t.Errorf("exhausted budget must scale bids to 0, got %v", d.BudgetScale)
	}
}

func TestDecideBudgetScaleDampensWithoutExhausting(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(2)
	posteriors := map[uint64]domain.ArmPosterior{}
	prevAlloc := map[uint64]float64{}
	cfg := DefaultConfig()
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 5, EstimatedCycleSpend: 10}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.BudgetScale != 0.5 {
		t.Errorf("BudgetScale = %v, want 0.5 (remaining/estimated)", d.BudgetScale)
	}
	if d.CampaignStatus != domain.StatusActive {
		t.Errorf("partial budget pressure must not complete the campaign, got %s", d.CampaignStatus)
	}
}

func TestDecideNoArmsErrors(t *testing.T) {
	campaign := testCampaign()
	if _, err := Decide(campaign, nil, nil, nil, MMMTable{}, DefaultConfig(), DecisionContext{Now: time.Now()}); err == nil {
		t.Error("Decide with zero arms must return an error")
	}
}

func TestDecideSkipsReportingBelowThreshold(t *testing.T) {
	campaign := testCampaign()
	arms := testArms(2)
	posteriors := map[uint64]domain.ArmPosterior{
		1: {ArmID: 1, Alpha: 5, Beta: 5},
		2: {ArmID: 2, Alpha: 5, Beta: 5},
	}
	prevAlloc := map[uint64]float64{1: 0.5, 2: 0.5}
	cfg := DefaultConfig()
	cfg.ReportThreshold = 1.0 // absurdly high, so no change should clear it
	ctx := DecisionContext{Now: time.Now(), CycleTick: 1, RemainingBudget: 1000, EstimatedCycleSpend: 2}

	d, err := Decide(campaign, arms, posteriors, prevAlloc, MMMTable{}, cfg, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Changes) != 0 {
		t.Errorf("changes below ReportThreshold must be suppressed, got %d changes", len(d.Changes))
	}
}

func TestQuarterOf(t *testing.T) {
	tests := []struct {
		month int
		want  int
	}{{1, 1}, {3, 1}, {4, 2}, {6, 2}, {7, 3}, {9, 3}, {10, 4}, {12, 4}}
	for _, tt := range tests {
		got, err := QuarterOf(tt.month)
		if err != nil {
			t.Fatalf("unexpected error for month %d: %v", tt.month, err)
		}
		if got != tt.want {
			t.Errorf("QuarterOf(%d) = %d, want %d", tt.month, got, tt.want)
		}
	}
	if _, err := QuarterOf(0); err == nil {
		t.Error("QuarterOf(0) must error")
	}
	if _, err := QuarterOf(13); err == nil {
		t.Error("QuarterOf(13) must error")
	}
}

func TestSeedForCycleDeterministic(t *testing.T) {
	if SeedForCycle(1, 100) != SeedForCycle(1, 100) {
		t.Error("SeedForCycle must be a pure function of its inputs")
	}
	if SeedForCycle(1, 100) == SeedForCycle(1, 101) {
		t.Error("different cycle ticks should (overwhelmingly likely) produce different seeds")
	}
}
