// Package mockplatform is a deterministic, in-memory platform.AdPlatform
// used by tests and local development when no platform credentials are
// configured.
package mockplatform

import (
	"context"
	"sync"
	"time"

	"adbudget/platform"
)

// Platform is an in-memory AdPlatform. Metrics are seeded by the caller
// via Seed and returned once per call to FetchMetrics (then cleared), so
// tests can simulate a sequence of polling windows.
type Platform struct {
	name string

	mu      sync.Mutex
	pending []platform.MetricPoint
	arms    map[string]platform.RemoteArm
	bids    map[string]float64
}

// New constructs a mock platform named name.
func New(name string) *Platform {
	return &Platform{
		name: name,
		arms: make(map[string]platform.RemoteArm),
		bids: make(map[string]float64),
	}
}

func (p *Platform) Name() string { return p.name }

// Seed appends metric points to be returned by the next FetchMetrics call.
func (p *Platform) Seed(points ...platform.MetricPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, points...)
}

// SeedArm registers a remote arm returned by ListArms.
func (p *Platform) SeedArm(a platform.RemoteArm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arms[a.ArmKey] = a
}

func (p *Platform) FetchMetrics(_ context.Context, since time.Time) ([]platform.MetricPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]platform.MetricPoint, 0, len(p.pending))
	var remaining []platform.MetricPoint
	for _, pt := range p.pending {
		if pt.TS.Before(since) {
			remaining = append(remaining, pt)
			continue
		}
		out = append(out, pt)
	}
	p.pending = remaining
	return out, nil
}

func (p *Platform) SetBid(_ context.Context, armKey string, bid float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bids[armKey] = bid
	if a, ok := p.arms[armKey]; ok {
		a.Bid = bid
		p.arms[armKey] = a
	}
	return nil
}

func (p *Platform) ListArms(_ context.Context) ([]platform.RemoteArm, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]platform.RemoteArm, 0, len(p.arms))
	for _, a := range p.arms {
		out = append(out, a)
	}
	return out, nil
}

// BidFor returns the last bid SetBid recorded for an arm, for test
// assertions.
func (p *Platform) BidFor(armKey string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.bids[armKey]
	return v, ok
}
