package scheduler

import (
	"context"
	"testing"
	"time"

	"adbudget/bandit"
	"adbudget/domain"
	"adbudget/platform"
	"adbudget/platform/mockplatform"
)

func TestSupervisorStartAllLaunchesOnlyActiveCampaigns(t *testing.T) {
	st := newTestStore(t)
	active, _ := st.Campaigns().Create(domain.Campaign{Name: "active", TotalBudget: 100, Status: domain.StatusActive})
	paused, _ := st.Campaigns().Create(domain.Campaign{Name: "paused", TotalBudget: 100, Status: domain.StatusPaused})

	sup := NewSupervisor(st, map[string]platform.AdPlatform{"mock": mockplatform.New("mock")}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if !sup.Running(active.ID) {
		t.Errorf("campaign %d is Active and must be running", active.ID)
	}
	if sup.Running(paused.ID) {
		t.Errorf("campaign %d is Paused and must not be running", paused.ID)
	}

	sup.StopAll(time.Second)
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	camp, _ := st.Campaigns().Create(domain.Campaign{Name: "x", TotalBudget: 100, Status: domain.StatusActive})
	sup := NewSupervisor(st, map[string]platform.AdPlatform{"mock": mockplatform.New("mock")}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(ctx, camp.ID)
	sup.Start(ctx, camp.ID) // must not launch a second cycle for the same campaign
	time.Sleep(10 * time.Millisecond)

	if !sup.Running(camp.ID) {
		t.Error("campaign must be running after Start")
	}
	sup.Stop(camp.ID)
	if sup.Running(camp.ID) {
		t.Error("campaign must not be running after Stop")
	}
}

func TestSupervisorStopOnUnknownCampaignIsNoOp(t *testing.T) {
	st := newTestStore(t)
	sup := NewSupervisor(st, map[string]platform.AdPlatform{}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	sup.Stop(999) // must not panic or block
}

func TestSupervisorReconcileReplaysJournalAndClearsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	camp, arms := seedCampaignWithArms(t, st, 1, 1000)
	now := time.Now().UTC()
	if err := st.Intended().Journal(camp.ID, arms[0].ID, 0.5, now); err != nil {
		t.Fatalf("Journal: %v", err)
	}

	mock := mockplatform.New("mock")
	sup := NewSupervisor(st, map[string]platform.AdPlatform{"mock": mock}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	if err := sup.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	bid, ok := mock.BidFor(arms[0].Key())
	if !ok {
		t.Fatal("Reconcile must push the journaled bid to the platform")
	}
	if bid != arms[0].Bid*0.5 {
		t.Errorf("pushed bid = %v, want arm.Bid * alloc = %v", bid, arms[0].Bid*0.5)
	}

	remaining, err := st.Intended().ListForCampaign(camp.ID)
	if err != nil {
		t.Fatalf("ListForCampaign: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("journal entry must be cleared after a successful reconcile, got %+v", remaining)
	}
}

func TestSupervisorReconcileWithNoPendingEntriesIsNoOp(t *testing.T) {
	st := newTestStore(t)
	sup := NewSupervisor(st, map[string]platform.AdPlatform{}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	if err := sup.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile with no journal entries must succeed: %v", err)
	}
}

func TestSupervisorReconcileLeavesEntryWhenPlatformMissing(t *testing.T) {
	st := newTestStore(t)
	camp, arms := seedCampaignWithArms(t, st, 1, 1000)
	if err := st.Intended().Journal(camp.ID, arms[0].ID, 0.5, time.Now().UTC()); err != nil {
		t.Fatalf("Journal: %v", err)
	}

	sup := NewSupervisor(st, map[string]platform.AdPlatform{}, bandit.DefaultConfig(), testAlerts(t), 4, nil, nil)
	if err := sup.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	remaining, err := st.Intended().ListForCampaign(camp.ID)
	if err != nil {
		t.Fatalf("ListForCampaign: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("journal entry must survive reconcile when no adapter is registered for its platform, got %+v", remaining)
	}
}
