package store

import (
	"testing"
	"time"

	"adbudget/domain"
)

func TestPosteriorGetLazilyMaterializesPrior(t *testing.T) {
	st := newTestStore(t)
	p, err := st.Posteriors().Get(42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Alpha != domain.PriorAlpha || p.Beta != domain.PriorBeta {
		t.Errorf("unobserved arm posterior = %+v, want Beta(%v,%v) prior", p, domain.PriorAlpha, domain.PriorBeta)
	}
}

func TestUpdatePosteriorAccumulates(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	p, err := st.Posteriors().UpdatePosterior(1, 3, 7, 12.5, 40, 1000, now)
	if err != nil {
		t.Fatalf("UpdatePosterior: %v", err)
	}
	if p.Alpha != domain.PriorAlpha+3 {
		t.Errorf("Alpha = %v, want prior+3 = %v", p.Alpha, domain.PriorAlpha+3)
	}
	if p.Beta != domain.PriorBeta+7 {
		t.Errorf("Beta = %v, want prior+7 = %v", p.Beta, domain.PriorBeta+7)
	}
	if p.Spend != 40 {
		t.Errorf("Spend = %v, want 40", p.Spend)
	}
	if p.RewardSum != 12.5 || p.RewardSqSum != 12.5*12.5 {
		t.Errorf("RewardSum/RewardSqSum = %v/%v, want 12.5/156.25", p.RewardSum, p.RewardSqSum)
	}
	if p.Trials != 1000 {
		t.Errorf("Trials = %v, want 1000", p.Trials)
	}

	p2, err := st.Posteriors().UpdatePosterior(1, 1, 1, 5, 10, 500, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second UpdatePosterior: %v", err)
	}
	if p2.Alpha != domain.PriorAlpha+4 || p2.Beta != domain.PriorBeta+8 {
		t.Errorf("second update must accumulate onto the first, got alpha=%v beta=%v", p2.Alpha, p2.Beta)
	}
	if p2.Trials != 1500 {
		t.Errorf("Trials after second update = %v, want 1500", p2.Trials)
	}
}

func TestUpdatePosteriorRejectsNegativeDeltas(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Posteriors().UpdatePosterior(1, -1, 0, 0, 0, 0, time.Now().UTC()); err == nil {
		t.Error("UpdatePosterior must reject a negative rewardSuccess delta")
	}
}

func TestPosteriorSnapshotFillsUnseenArmsWithPrior(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	if _, err := st.Posteriors().UpdatePosterior(1, 2, 1, 3, 5, 100, now); err != nil {
		t.Fatalf("UpdatePosterior: %v", err)
	}

	snap, err := st.Posteriors().Snapshot([]uint64{1, 2})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap[1].Alpha != domain.PriorAlpha+2 {
		t.Errorf("snap[1].Alpha = %v, want prior+2", snap[1].Alpha)
	}
	if snap[2].Alpha != domain.PriorAlpha || snap[2].Beta != domain.PriorBeta {
		t.Errorf("snap[2] (never observed) = %+v, want the bare prior", snap[2])
	}
}
