package mockplatform

import (
	"context"
	"testing"
	"time"

	"adbudget/platform"
)

func TestFetchMetricsReturnsOnlySeededPointsAtOrAfterSince(t *testing.T) {
	p := New("google_ads")
	since := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	p.Seed(
		platform.MetricPoint{ArmKey: "old", TS: since.Add(-time.Hour)},
		platform.MetricPoint{ArmKey: "new", TS: since.Add(time.Hour)},
	)

	got, err := p.FetchMetrics(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if len(got) != 1 || got[0].ArmKey != "new" {
		t.Errorf("FetchMetrics(since=%v) = %+v, want only the point at/after since", since, got)
	}
}

func TestFetchMetricsClearsReturnedPoints(t *testing.T) {
	p := New("meta")
	since := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	p.Seed(platform.MetricPoint{ArmKey: "a", TS: since})

	first, err := p.FetchMetrics(context.Background(), since)
	if err != nil || len(first) != 1 {
		t.Fatalf("first FetchMetrics: %+v, %v", first, err)
	}
	second, err := p.FetchMetrics(context.Background(), since)
	if err != nil {
		t.Fatalf("second FetchMetrics: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("a point consumed by one FetchMetrics must not be returned again, got %+v", second)
	}
}

func TestSetBidUpdatesSeededArm(t *testing.T) {
	p := New("tiktok")
	p.SeedArm(platform.RemoteArm{ArmKey: "tiktok|feed|v1|1.000000", Bid: 1.0, Active: true})

	if err := p.SetBid(context.Background(), "tiktok|feed|v1|1.000000", 2.5); err != nil {
		t.Fatalf("SetBid: %v", err)
	}

	bid, ok := p.BidFor("tiktok|feed|v1|1.000000")
	if !ok || bid != 2.5 {
		t.Errorf("BidFor = (%v, %v), want (2.5, true)", bid, ok)
	}

	arms, err := p.ListArms(context.Background())
	if err != nil {
		t.Fatalf("ListArms: %v", err)
	}
	if len(arms) != 1 || arms[0].Bid != 2.5 {
		t.Errorf("ListArms must reflect the updated bid, got %+v", arms)
	}
}

func TestSetBidOnUnknownArmStillRecordsBid(t *testing.T) {
	p := New("google_ads")
	if err := p.SetBid(context.Background(), "unknown-key", 3.0); err != nil {
		t.Fatalf("SetBid: %v", err)
	}
	bid, ok := p.BidFor("unknown-key")
	if !ok || bid != 3.0 {
		t.Errorf("BidFor(unknown-key) = (%v, %v), want (3.0, true)", bid, ok)
	}
}
