package domain

import "time"

// ArmPosterior is the learned belief over an arm's success probability
// (Beta parameters) plus auxiliary reward/spend statistics. Owned and
// mutated exclusively by the store package; this type is the read-only
// value shape shared across packages.
type ArmPosterior struct {
	ArmID uint64

	Alpha float64 // alpha >= 1, Laplace-smoothed, prior alpha0 = 1
	Beta  float64 // beta >= 1, prior beta0 = 1

	Spend        float64 // cumulative cost charged to the arm (S)
	RewardSum    float64 // running sum of rewards (R)
	RewardSqSum  float64 // running sum of squared rewards (R^2)
	Trials       float64 // trial count (n); accrues by impressions, capped per cycle

	UpdatedTS time.Time
}

// PriorAlpha and PriorBeta are the Laplace-smoothed Beta prior, alpha0=beta0=1.
const (
	PriorAlpha = 1.0
	PriorBeta  = 1.0
)

// NewArmPosterior returns the lazily-created posterior for an arm with no
// observations yet: Beta(1,1), zeroed reward/spend statistics.
func NewArmPosterior(armID uint64) ArmPosterior {
	return ArmPosterior{
		ArmID: armID,
		Alpha: PriorAlpha,
		Beta:  PriorBeta,
	}
}

// MeanReward is R/n, zero when n==0.
func (p ArmPosterior) MeanReward() float64 {
	if p.Trials == 0 {
		return 0
	}
	return p.RewardSum / p.Trials
}

// RewardVariance is R^2/n - (R/n)^2, zero when n==0.
func (p ArmPosterior) RewardVariance() float64 {
	if p.Trials == 0 {
		return 0
	}
	mean := p.MeanReward()
	v := p.RewardSqSum/p.Trials - mean*mean
	if v < 0 {
		// guards against floating-point cancellation producing a
		// negative variance for near-zero true variance.
		v = 0
	}
	return v
}

// TrialsFromPosterior returns n = (alpha - alpha0) + (beta - beta0),
// invariant I5: alpha + beta - 2 == n for any posterior built purely from
// observed rewards.
func (p ArmPosterior) TrialsFromPosterior() float64 {
	return (p.Alpha - PriorAlpha) + (p.Beta - PriorBeta)
}
