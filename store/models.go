package store

import "time"

// Gorm-mapped row shapes. Kept separate from the domain package's pure
// value types (domain.Campaign, domain.Arm, ...) so persistence concerns
// (JSON columns, composite indexes, GORM tags) never leak into the
// decision core or the entity model.

type campaignRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"index"`
	TotalBudget   float64
	StartTS       time.Time
	EndTS         *time.Time
	Status        string `gorm:"index"`
	PrimaryKPI    string
	RiskTolerance float64
	VarianceLimit float64
	CadenceMs     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (campaignRow) TableName() string { return "campaigns" }

type armRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CampaignID uint64 `gorm:"index:idx_arm_campaign"`
	ArmKey     string `gorm:"index:idx_arm_key"`
	Platform   string
	Channel    string
	Creative   string
	Bid        float64
	Disabled   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (armRow) TableName() string { return "arms" }

type posteriorRow struct {
	ArmID       uint64 `gorm:"primaryKey"`
	Alpha       float64
	Beta        float64
	Spend       float64
	RewardSum   float64
	RewardSqSum float64
	Trials      float64
	UpdatedTS   time.Time
}

func (posteriorRow) TableName() string { return "posteriors" }

type metricRow struct {
	ArmID       uint64    `gorm:"primaryKey;autoIncrement:false"`
	TS          time.Time `gorm:"primaryKey"`
	Source      string    `gorm:"primaryKey"`
	Impressions int64
	Clicks      int64
	Conversions int64
	Cost        float64
	Revenue     float64
	Quality     string
	CreatedAt   time.Time
}

func (metricRow) TableName() string { return "metrics" }

type allocationChangeRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	CampaignID    uint64 `gorm:"index:idx_change_campaign_ts"`
	ArmID         uint64 `gorm:"index"`
	TS            time.Time `gorm:"index:idx_change_campaign_ts"`
	OldAlloc      float64
	NewAlloc      float64
	ChangePct     float64
	Reason        string
	FactorsJSON   string
	MMMJSON       string
	InitiatedBy   string
	StateSnapshot string
}

func (allocationChangeRow) TableName() string { return "allocation_changes" }

type intendedAllocationRow struct {
	CampaignID uint64 `gorm:"primaryKey"`
	ArmID      uint64 `gorm:"primaryKey"`
	Alloc      float64
	TS         time.Time
}

func (intendedAllocationRow) TableName() string { return "intended_allocations" }

// mmmFactorRow stores both seasonality rows (quarter+channel) and external
// scalar-factor rows (name only, quarter=0, channel="") in one table, mirroring
// the teacher's practice of a single config-as-rows table (store.Strategy()).
type mmmFactorRow struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Kind    string `gorm:"uniqueIndex:idx_mmm_seasonality;uniqueIndex:idx_mmm_external"` // "seasonality" | "external"
	Quarter int    `gorm:"uniqueIndex:idx_mmm_seasonality"`
	Channel string `gorm:"uniqueIndex:idx_mmm_seasonality"`
	Name    string `gorm:"uniqueIndex:idx_mmm_external"`
	Value   float64
}

func (mmmFactorRow) TableName() string { return "mmm_factors" }

// adStockRow persists each arm's carryover stock between cycles — bandit
// decision-core state that outlives a single Decide call but belongs to
// no other table.
type adStockRow struct {
	ArmID uint64 `gorm:"primaryKey"`
	Stock float64
}

func (adStockRow) TableName() string { return "ad_stock" }
