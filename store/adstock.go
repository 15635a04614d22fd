package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AdStockStore persists each arm's ad-stock carryover between cycles, so
// the scheduler can hand bandit.Decide an accurate AdStockPrev map after
// a restart.
type AdStockStore struct {
	db *gorm.DB
}

// NewAdStockStore constructs an AdStockStore bound to gdb.
func NewAdStockStore(gdb *gorm.DB) *AdStockStore {
	return &AdStockStore{db: gdb}
}

func (s *AdStockStore) initTables() error {
	return s.db.AutoMigrate(&adStockRow{})
}

// LoadForArms returns the persisted ad-stock for each of armIDs; an arm
// with no prior cycle is absent from the map, so a lookup yields 0.
func (s *AdStockStore) LoadForArms(armIDs []uint64) (map[uint64]float64, error) {
	out := make(map[uint64]float64, len(armIDs))
	if len(armIDs) == 0 {
		return out, nil
	}
	var rows []adStockRow
	if err := s.db.Where("arm_id IN ?", armIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ArmID] = r.Stock
	}
	return out, nil
}

// SaveAll upserts the ad-stock for every arm in stocks.
func (s *AdStockStore) SaveAll(stocks map[uint64]float64) error {
	for armID, v := range stocks {
		row := adStockRow{ArmID: armID, Stock: v}
		if err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "arm_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stock"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
