package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adbudget/bandit"
)

const (
	mmmKindSeasonality = "seasonality"
	mmmKindExternal    = "external"
)

// MMMStore persists the marketing-mix-model configuration: seasonality
// multipliers keyed by (quarter, channel), and scalar external factors
// keyed by name. Both are operator-maintained reference data, not written
// by the decision core itself.
type MMMStore struct {
	db *gorm.DB
}

// NewMMMStore constructs an MMMStore bound to gdb.
func NewMMMStore(gdb *gorm.DB) *MMMStore {
	return &MMMStore{db: gdb}
}

func (s *MMMStore) initTables() error {
	return s.db.AutoMigrate(&mmmFactorRow{})
}

// LoadTable reads every configured factor into a bandit.MMMTable.
func (s *MMMStore) LoadTable() (bandit.MMMTable, error) {
	var rows []mmmFactorRow
	if err := s.db.Find(&rows).Error; err != nil {
		return bandit.MMMTable{}, err
	}
	table := bandit.MMMTable{
		Seasonality:     make(map[bandit.SeasonalityKey]float64),
		ExternalFactors: make(map[string]float64),
	}
	for _, r := range rows {
		switch r.Kind {
		case mmmKindSeasonality:
			table.Seasonality[bandit.SeasonalityKey{Quarter: r.Quarter, Channel: r.Channel}] = r.Value
		case mmmKindExternal:
			table.ExternalFactors[r.Name] = r.Value
		}
	}
	return table, nil
}

// SetSeasonality upserts a (quarter, channel) seasonality multiplier.
func (s *MMMStore) SetSeasonality(quarter int, channel string, value float64) error {
	row := mmmFactorRow{Kind: mmmKindSeasonality, Quarter: quarter, Channel: channel, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "quarter"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// SetExternalFactor upserts a named scalar external multiplier.
func (s *MMMStore) SetExternalFactor(name string, value float64) error {
	row := mmmFactorRow{Kind: mmmKindExternal, Name: name, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}
