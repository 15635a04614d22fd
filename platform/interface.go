// Package platform defines the capability boundary between the decision
// engine and the ad platforms it buys on (Google Ads, Meta, TikTok, ...).
// Unified across platforms the same way the teacher's trader.Trader
// interface unifies exchanges (Binance, Bybit, Hyperliquid, ...).
package platform

import (
	"context"
	"time"
)

// MetricPoint is a single (arm, window) metric observation fetched from an
// ad platform's reporting API.
type MetricPoint struct {
	ArmKey      string // platform|channel|creative|bid, matches domain.Arm.Key()
	TS          time.Time
	Impressions int64
	Clicks      int64
	Conversions int64
	Cost        float64
	Revenue     float64
}

// RemoteArm describes an ad unit as the platform reports it, used to
// reconcile the locally-known arm set against what the platform actually
// serves.
type RemoteArm struct {
	ArmKey   string
	Platform string
	Channel  string
	Creative string
	Bid      float64
	Active   bool
}

// AdPlatform is the capability every ad platform adapter must implement.
// Implementations must be safe for concurrent use: the ingest package's
// poller calls FetchMetrics (rate-limited per platform) while campaign
// cycles call SetBid concurrently.
type AdPlatform interface {
	// Name identifies the platform (e.g. "google_ads", "meta", "tiktok"),
	// used to key rate limits and credentials.
	Name() string

	// FetchMetrics returns metric points for the platform's arms observed
	// in [since, now]. Implementations should request the smallest window
	// that guarantees no gap versus the last successful poll.
	FetchMetrics(ctx context.Context, since time.Time) ([]MetricPoint, error)

	// SetBid pushes a new bid for an arm. Called once per arm per decision
	// cycle when the arm's allocation changed enough to cross the report
	// threshold.
	SetBid(ctx context.Context, armKey string, bid float64) error

	// ListArms returns the platform's current view of arms under this
	// platform, for drift reconciliation against the local arm table.
	ListArms(ctx context.Context) ([]RemoteArm, error)
}
