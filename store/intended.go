package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adbudget/domain"
)

// IntendedStore persists the intended-allocation journal: the allocation
// vector a decision cycle is about to apply, written before any
// AdPlatform.SetBid calls go out. On restart after a crash mid-cycle, the
// supervisor replays this journal to find arms whose intended allocation
// was never confirmed applied, and re-issues the bid.
type IntendedStore struct {
	db *gorm.DB
}

// NewIntendedStore constructs an IntendedStore bound to gdb.
func NewIntendedStore(gdb *gorm.DB) *IntendedStore {
	return &IntendedStore{db: gdb}
}

func (s *IntendedStore) initTables() error {
	return s.db.AutoMigrate(&intendedAllocationRow{})
}

// Journal upserts the intended allocation for (campaignID, armID), called
// once per arm immediately before the scheduler applies a decision.
func (s *IntendedStore) Journal(campaignID, armID uint64, alloc float64, ts time.Time) error {
	row := intendedAllocationRow{CampaignID: campaignID, ArmID: armID, Alloc: alloc, TS: ts}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "arm_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"alloc", "ts"}),
	}).Create(&row).Error
}

// Clear removes the journal entry once the scheduler confirms the
// allocation was successfully applied at the platform.
func (s *IntendedStore) Clear(campaignID, armID uint64) error {
	return s.db.Delete(&intendedAllocationRow{}, "campaign_id = ? AND arm_id = ?", campaignID, armID).Error
}

// ListAll returns every outstanding journal entry, used during startup
// reconciliation: any entry still present means the prior process died
// between journaling the decision and confirming its application.
func (s *IntendedStore) ListAll() ([]domain.IntendedAllocation, error) {
	var rows []intendedAllocationRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.IntendedAllocation, len(rows))
	for i, r := range rows {
		out[i] = domain.IntendedAllocation{CampaignID: r.CampaignID, ArmID: r.ArmID, Alloc: r.Alloc, TS: r.TS}
	}
	return out, nil
}

// ListForCampaign returns outstanding journal entries for one campaign.
func (s *IntendedStore) ListForCampaign(campaignID uint64) ([]domain.IntendedAllocation, error) {
	var rows []intendedAllocationRow
	if err := s.db.Where("campaign_id = ?", campaignID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.IntendedAllocation, len(rows))
	for i, r := range rows {
		out[i] = domain.IntendedAllocation{CampaignID: r.CampaignID, ArmID: r.ArmID, Alloc: r.Alloc, TS: r.TS}
	}
	return out, nil
}
