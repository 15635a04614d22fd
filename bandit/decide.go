package bandit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"adbudget/domain"
)

// DecisionContext is the "context at now" argument to Decide: everything
// time- and budget-dependent that the pure decision core needs but cannot
// compute itself. The scheduler assembles this once per cycle.
type DecisionContext struct {
	Now                 time.Time
	CycleTick           int64
	RemainingBudget     float64            // total_budget - cumulative spend across all arms
	EstimatedCycleSpend float64            // projected total spend this cycle at full allocation over Δt
	AdStockPrev         map[uint64]float64 // arm_id -> carryover stock carried from the previous cycle
}

// Decision is the output of one Decide call.
type Decision struct {
	NewAlloc       map[uint64]float64 // arm_id -> normalized share, sums to 1 across eligible arms
	AdStock        map[uint64]float64 // arm_id -> updated carryover stock, to persist for next cycle
	Changes        []domain.AllocationChange
	CampaignStatus domain.CampaignStatus // unchanged unless the budget check completes the campaign
	BudgetScale    float64               // <= 1; scales the bid magnitude derived from NewAlloc
}

type armWork struct {
	arm      domain.Arm
	theta    float64
	riskAdj  float64
	mmmAdj   float64
	newStock float64
	factors  map[string]float64
	mmm      map[string]float64
}

// Decide runs the six-step pipeline (Thompson sample, risk filter, MMM
// adjustment, allocate, budget check, emit changes) and is pure: identical
// (campaign, arms, posteriors, prevAlloc, mmm, cfg, ctx) always yields an
// identical Decision, because the only randomness is the RNG seeded
// deterministically from (campaign.ID, ctx.CycleTick).
func Decide(
	campaign domain.Campaign,
	arms []domain.Arm,
	posteriors map[uint64]domain.ArmPosterior,
	prevAlloc map[uint64]float64,
	mmm MMMTable,
	cfg Config,
	ctx DecisionContext,
) (Decision, error) {
	if len(arms) == 0 {
		return Decision{}, fmt.Errorf("bandit: campaign %d has no arms", campaign.ID)
	}

	// Deterministic processing order: arm_key lexicographic, per the
	// spec's tie-break rule. This also fixes the order in which RNG draws
	// are consumed, which is what makes Decide reproducible.
	ordered := make([]domain.Arm, len(arms))
	copy(ordered, arms)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key() < ordered[j].Key() })

	rng := newRNG(SeedForCycle(campaign.ID, ctx.CycleTick))

	riskTolerance := campaign.RiskTolerance
	if riskTolerance == 0 {
		riskTolerance = cfg.RiskToleranceDefault
	}
	varianceLimit := campaign.VarianceLimit
	if varianceLimit == 0 {
		varianceLimit = cfg.VarianceLimitDefault
	}
	quarter, _ := QuarterOf(int(ctx.Now.Month()))

	var eligible []*armWork
	disabled := make(map[uint64]bool)
	newStock := make(map[uint64]float64, len(ordered))

	for _, arm := range ordered {
		if arm.Disabled {
			disabled[arm.ID] = true
			continue
		}
		post, ok := posteriors[arm.ID]
		if !ok {
			post = domain.NewArmPosterior(arm.ID)
		}

		// Step 1 — Thompson sample.
		theta := sampleBeta(rng, post.Alpha, post.Beta)

		// Step 2 — risk filter.
		variance := post.RewardVariance()
		riskScore := 0.0
		if varianceLimit > 0 {
			riskScore = math.Min(1, variance/varianceLimit)
		}
		adjusted := theta * (1 - riskTolerance*riskScore)
		if variance > varianceLimit && post.Trials < cfg.MinTrialsForRiskGate {
			adjusted *= 0.5
		}
		riskFactor := logRatio(adjusted, theta)

		// Step 3 — MMM adjustment.
		seasonal := mmm.seasonalityFor(quarter, arm.Channel)
		prevStock := ctx.AdStockPrev[arm.ID]
		carryoverMult, stock := carryoverMultiplier(prevStock, cfg.CarryoverDecay, cfg.CarryoverCap)
		externalMult, externalApplied := mmm.externalMultiplier()

		beforeMMM := adjusted
		adjusted *= seasonal * carryoverMult * externalMult
		newStock[arm.ID] = stock

		mmmFactors := map[string]float64{
			"seasonality": logRatioSafe(seasonal),
			"carryover":   logRatioSafe(carryoverMult),
		}
		for name, v := range externalApplied {
			mmmFactors["external:"+name] = logRatioSafe(v)
		}

		eligible = append(eligible, &armWork{
			arm:      arm,
			theta:    theta,
			riskAdj:  adjusted,
			mmmAdj:   logRatio(adjusted, beforeMMM),
			newStock: stock,
			factors: map[string]float64{
				"thompson":        logRatioSafe(theta),
				"risk":            riskFactor,
				"mmm_seasonality": logRatioSafe(seasonal),
				"mmm_carryover":   logRatioSafe(carryoverMult),
			},
			mmm: mmmFactors,
		})
	}

	// Step 4 — allocate.
	sum := 0.0
	for _, w := range eligible {
		sum += w.riskAdj
	}
	alloc := make(map[uint64]float64, len(ordered))
	for id := range disabled {
		alloc[id] = 0
	}
	if sum <= 0 {
		uniform := 0.0
		if len(eligible) > 0 {
			uniform = 1.0 / float64(len(eligible))
		}
		for _, w := range eligible {
			alloc[w.arm.ID] = uniform
		}
	} else {
		for _, w := range eligible {
			alloc[w.arm.ID] = w.riskAdj / sum
		}
	}

	applyFloorAndRenormalize(alloc, eligible, cfg.MinAllocFloor)

	preClip := make(map[uint64]float64, len(alloc))
	for id, v := range alloc {
		preClip[id] = v
	}
	applyStepClipAndRenormalize(alloc, eligible, prevAlloc, cfg.MaxStep)
	stepClipFactor := make(map[uint64]float64, len(eligible))
	for _, w := range eligible {
		stepClipFactor[w.arm.ID] = logRatio(alloc[w.arm.ID], preClip[w.arm.ID])
	}

	// Step 5 — budget check.
	budgetScale := 1.0
	status := campaign.Status
	if ctx.RemainingBudget <= 0 {
		budgetScale = 0
		status = domain.StatusCompleted
	} else if ctx.EstimatedCycleSpend >= ctx.RemainingBudget && ctx.EstimatedCycleSpend > 0 {
		budgetScale = ctx.RemainingBudget / ctx.EstimatedCycleSpend
		if budgetScale > 1 {
			budgetScale = 1
		}
	}

	// Step 6 — emit changes.
	var changes []domain.AllocationChange
	for _, w := range eligible {
		newA := alloc[w.arm.ID]
		oldA := prevAlloc[w.arm.ID]
		if math.Abs(newA-oldA) < cfg.ReportThreshold {
			continue
		}
		factors := map[string]float64{}
		for k, v := range w.factors {
			factors[k] = v
		}
		factors["step_clip"] = stepClipFactor[w.arm.ID]
		factors["budget_scale"] = logRatioSafe(budgetScale)
		mmmF := map[string]float64{}
		for k, v := range w.mmm {
			mmmF[k] = v
		}
		changes = append(changes, domain.NewAllocationChange(
			ctx.Now, campaign.ID, w.arm.ID, oldA, newA,
			"bandit decision cycle", factors, mmmF, domain.InitiatedAuto, "",
		))
	}
	for id := range disabled {
		newA := alloc[id]
		oldA := prevAlloc[id]
		if math.Abs(newA-oldA) < cfg.ReportThreshold {
			continue
		}
		changes = append(changes, domain.NewAllocationChange(
			ctx.Now, campaign.ID, id, oldA, newA,
			"arm disabled", map[string]float64{}, map[string]float64{}, domain.InitiatedAuto, "",
		))
	}

	return Decision{
		NewAlloc:       alloc,
		AdStock:        newStock,
		Changes:        changes,
		CampaignStatus: status,
		BudgetScale:    budgetScale,
	}, nil
}

// applyFloorAndRenormalize applies the per-arm minimum-exploration floor
// and renormalizes so the eligible arms' shares sum back to 1.
func applyFloorAndRenormalize(alloc map[uint64]float64, eligible []*armWork, floor float64) {
	if floor <= 0 || len(eligible) == 0 {
		return
	}
	for _, w := range eligible {
		if alloc[w.arm.ID] < floor {
			alloc[w.arm.ID] = floor
		}
	}
	renormalize(alloc, eligible)
}

// applyStepClipAndRenormalize bounds |alloc_new - alloc_old| <= maxStep per
// arm, then renormalizes across eligible arms.
func applyStepClipAndRenormalize(alloc map[uint64]float64, eligible []*armWork, prevAlloc map[uint64]float64, maxStep float64) {
	if maxStep <= 0 || len(eligible) == 0 {
		return
	}
	for _, w := range eligible {
		old := prevAlloc[w.arm.ID]
		cur := alloc[w.arm.ID]
		if cur-old > maxStep {
			alloc[w.arm.ID] = old + maxStep
		} else if old-cur > maxStep {
			alloc[w.arm.ID] = old - maxStep
		}
		if alloc[w.arm.ID] < 0 {
			alloc[w.arm.ID] = 0
		}
	}
	renormalize(alloc, eligible)
}

func renormalize(alloc map[uint64]float64, eligible []*armWork) {
	sum := 0.0
	for _, w := range eligible {
		sum += alloc[w.arm.ID]
	}
	if sum <= 0 {
		uniform := 1.0 / float64(len(eligible))
		for _, w := range eligible {
			alloc[w.arm.ID] = uniform
		}
		return
	}
	for _, w := range eligible {
		alloc[w.arm.ID] = alloc[w.arm.ID] / sum
	}
}

// logRatio returns log(after/before), 0 when before is non-positive (no
// well-defined ratio, e.g. a Thompson sample of exactly 0).
func logRatio(after, before float64) float64 {
	if before <= 0 || after <= 0 {
		return 0
	}
	return math.Log(after / before)
}

// logRatioSafe returns log(v), treating v<=0 as a no-op multiplier (0
// log-contribution) rather than -Inf.
func logRatioSafe(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log(v)
}
