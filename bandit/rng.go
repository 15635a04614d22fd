package bandit

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
)

// SeedForCycle derives the deterministic RNG seed hash(campaign_id,
// cycle_tick) used to make Decide reproducible given identical inputs, per
// the spec's determinism requirement. FNV-1a is used rather than a
// cryptographic hash since this seed need only be well-distributed, not
// unpredictable.
func SeedForCycle(campaignID uint64, cycleTick int64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatUint(campaignID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(cycleTick, 10)))
	return h.Sum64()
}

// newRNG builds a deterministic generator from a single uint64 seed.
func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// sampleBeta draws theta ~ Beta(alpha, beta) using the standard
// ratio-of-gammas construction: X ~ Gamma(alpha,1), Y ~ Gamma(beta,1),
// theta = X/(X+Y). alpha and beta are normally >= 1 here (the posterior's
// Laplace-smoothed prior guarantees this), so sampleGamma's boost branch
// for shapes below 1 is not normally taken.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws a Gamma(shape, 1) variate via Marsaglia & Tsang (2000).
// Shapes below 1 are handled with the boost Gamma(shape+1) * U^(1/shape).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// boost: Gamma(shape) = Gamma(shape+1) * U^(1/shape)
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
