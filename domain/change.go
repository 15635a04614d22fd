package domain

import "time"

// InitiatedBy records who caused an AllocationChange.
type InitiatedBy string

const (
	InitiatedAuto     InitiatedBy = "auto"
	InitiatedAnalyst  InitiatedBy = "analyst"
	InitiatedOverride InitiatedBy = "override"
)

// AllocationChange is an append-only record of a decision that altered (or
// attempted to alter) a campaign's allocation vector, with full factor
// attribution for explanation.
type AllocationChange struct {
	ID             uint64
	TS             time.Time
	CampaignID     uint64
	ArmID          uint64
	OldAlloc       float64
	NewAlloc       float64
	ChangePct      float64
	Reason         string
	Factors        map[string]float64 // thompson, risk, mmm_seasonality, mmm_carryover, step_clip, budget_scale
	MMMFactors     map[string]float64
	InitiatedBy    InitiatedBy
	StateSnapshot  string // opaque, JSON-encoded snapshot of the campaign state at decision time
}

// NewAllocationChange builds a change record with ChangePct derived from
// OldAlloc/NewAlloc; callers supply the rest of the attribution.
func NewAllocationChange(ts time.Time, campaignID, armID uint64, oldAlloc, newAlloc float64, reason string, factors, mmmFactors map[string]float64, by InitiatedBy, snapshot string) AllocationChange {
	var pct float64
	if oldAlloc != 0 {
		pct = (newAlloc - oldAlloc) / oldAlloc
	} else if newAlloc != 0 {
		pct = 1
	}
	return AllocationChange{
		TS:            ts,
		CampaignID:    campaignID,
		ArmID:         armID,
		OldAlloc:      oldAlloc,
		NewAlloc:      newAlloc,
		ChangePct:     pct,
		Reason:        reason,
		Factors:       factors,
		MMMFactors:    mmmFactors,
		InitiatedBy:   by,
		StateSnapshot: snapshot,
	}
}
