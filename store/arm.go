package store

import (
	"fmt"

	"gorm.io/gorm"

	"adbudget/domain"
)

// ArmStore persists domain.Arm rows. Arms are never deleted: disabling an
// arm pins its allocation to zero but keeps its row and posterior history,
// per the spec's arm-retirement design note.
type ArmStore struct {
	db *gorm.DB
}

// NewArmStore constructs an ArmStore bound to gdb.
func NewArmStore(gdb *gorm.DB) *ArmStore {
	return &ArmStore{db: gdb}
}

func (s *ArmStore) initTables() error {
	return s.db.AutoMigrate(&armRow{})
}

// Create persists a new arm under a campaign, assigning it an ID.
func (s *ArmStore) Create(a domain.Arm) (domain.Arm, error) {
	row := toArmRow(a)
	row.ID = 0
	if err := s.db.Create(&row).Error; err != nil {
		return domain.Arm{}, fmt.Errorf("create arm: %w", err)
	}
	return fromArmRow(row), nil
}

// ListByCampaign returns all arms (enabled and disabled) for a campaign,
// ordered by arm_key for deterministic downstream iteration.
func (s *ArmStore) ListByCampaign(campaignID uint64) ([]domain.Arm, error) {
	var rows []armRow
	if err := s.db.Where("campaign_id = ?", campaignID).Order("arm_key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Arm, len(rows))
	for i, r := range rows {
		out[i] = fromArmRow(r)
	}
	return out, nil
}

// SetDisabled pins or un-pins an arm's allocation eligibility.
func (s *ArmStore) SetDisabled(armID uint64, disabled bool) error {
	return s.db.Model(&armRow{}).Where("id = ?", armID).Update("disabled", disabled).Error
}

// SetBid updates an arm's stored bid (after an analyst override). The
// scheduler pushes allocation-scaled bids to the platform without calling
// this.
func (s *ArmStore) SetBid(armID uint64, bid float64) error {
	return s.db.Model(&armRow{}).Where("id = ?", armID).Update("bid", bid).Error
}

// ResolveByKey looks up an arm by its stored arm_key across all campaigns,
// used by the webhook ingest path to map a platform's arm identity back to
// our arm ID without knowing which campaign it belongs to up front.
func (s *ArmStore) ResolveByKey(armKey string) (uint64, bool, error) {
	var row armRow
	err := s.db.Where("arm_key = ?", armKey).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ID, true, nil
}

func toArmRow(a domain.Arm) armRow {
	return armRow{
		ID:         a.ID,
		CampaignID: a.CampaignID,
		ArmKey:     a.Key(),
		Platform:   a.Platform,
		Channel:    a.Channel,
		Creative:   a.Creative,
		Bid:        a.Bid,
		Disabled:   a.Disabled,
	}
}

func fromArmRow(r armRow) domain.Arm {
	return domain.Arm{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Platform:   r.Platform,
		Channel:    r.Channel,
		Creative:   r.Creative,
		Bid:        r.Bid,
		Disabled:   r.Disabled,
	}
}
