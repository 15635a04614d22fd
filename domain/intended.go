package domain

import "time"

// IntendedAllocation is a crash-recovery journal row: the allocation the
// engine intended to apply via AdPlatform.SetBid, written before the call
// and cleared once confirmed. A row surviving past a restart means the
// corresponding SetBid may not have landed and must be reconciled.
type IntendedAllocation struct {
	CampaignID uint64
	ArmID      uint64
	Alloc      float64
	TS         time.Time
}
