package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"adbudget/domain"
)

// CampaignStore persists domain.Campaign rows.
type CampaignStore struct {
	db *gorm.DB
}

// NewCampaignStore constructs a CampaignStore bound to gdb.
func NewCampaignStore(gdb *gorm.DB) *CampaignStore {
	return &CampaignStore{db: gdb}
}

func (s *CampaignStore) initTables() error {
	return s.db.AutoMigrate(&campaignRow{})
}

// Create persists a new campaign with the status it carries, assigning it
// an ID.
func (s *CampaignStore) Create(c domain.Campaign) (domain.Campaign, error) {
	row := toCampaignRow(c)
	row.ID = 0
	if err := s.db.Create(&row).Error; err != nil {
		return domain.Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	return fromCampaignRow(row), nil
}

// Get loads a single campaign by ID.
func (s *CampaignStore) Get(id uint64) (domain.Campaign, error) {
	var row campaignRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Campaign{}, fmt.Errorf("campaign %d: %w", id, err)
		}
		return domain.Campaign{}, err
	}
	return fromCampaignRow(row), nil
}

// Update persists a full campaign row (name, status, budget, risk params).
func (s *CampaignStore) Update(c domain.Campaign) error {
	row := toCampaignRow(c)
	return s.db.Model(&campaignRow{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":           row.Name,
		"total_budget":   row.TotalBudget,
		"start_ts":       row.StartTS,
		"end_ts":         row.EndTS,
		"status":         row.Status,
		"primary_kpi":    row.PrimaryKPI,
		"risk_tolerance": row.RiskTolerance,
		"variance_limit": row.VarianceLimit,
		"cadence_ms":     row.CadenceMs,
	}).Error
}

// SetStatus updates only the status column — the single-writer path used
// by the supervisor and the analyst override API.
func (s *CampaignStore) SetStatus(id uint64, status domain.CampaignStatus) error {
	return s.db.Model(&campaignRow{}).Where("id = ?", id).Update("status", string(status)).Error
}

// ListByStatus returns all campaigns in any of the given statuses, used on
// restart to load Active campaigns.
func (s *CampaignStore) ListByStatus(statuses ...domain.CampaignStatus) ([]domain.Campaign, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	var rows []campaignRow
	if err := s.db.Where("status IN ?", strs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Campaign, len(rows))
	for i, r := range rows {
		out[i] = fromCampaignRow(r)
	}
	return out, nil
}

func toCampaignRow(c domain.Campaign) campaignRow {
	return campaignRow{
		ID:            c.ID,
		Name:          c.Name,
		TotalBudget:   c.TotalBudget,
		StartTS:       c.Start,
		EndTS:         c.End,
		Status:        string(c.Status),
		PrimaryKPI:    string(c.PrimaryKPI),
		RiskTolerance: c.RiskTolerance,
		VarianceLimit: c.VarianceLimit,
		CadenceMs:     c.CadenceMs,
	}
}

func fromCampaignRow(r campaignRow) domain.Campaign {
	return domain.Campaign{
		ID:            r.ID,
		Name:          r.Name,
		TotalBudget:   r.TotalBudget,
		Start:         r.StartTS,
		End:           r.EndTS,
		Status:        domain.CampaignStatus(r.Status),
		PrimaryKPI:    domain.PrimaryKPI(r.PrimaryKPI),
		RiskTolerance: r.RiskTolerance,
		VarianceLimit: r.VarianceLimit,
		CadenceMs:     r.CadenceMs,
	}
}
