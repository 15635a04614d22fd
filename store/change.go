package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"adbudget/domain"
)

// ChangeStore persists the append-only allocation change log (C6).
type ChangeStore struct {
	db *gorm.DB
}

// NewChangeStore constructs a ChangeStore bound to gdb.
func NewChangeStore(gdb *gorm.DB) *ChangeStore {
	return &ChangeStore{db: gdb}
}

func (s *ChangeStore) initTables() error {
	return s.db.AutoMigrate(&allocationChangeRow{})
}

// AppendChange inserts a new change record. Rows are never updated or
// deleted in the normal course of operation — only the retention sweep
// removes rows, and only once they are older than the configured horizon.
func (s *ChangeStore) AppendChange(c domain.AllocationChange) (domain.AllocationChange, error) {
	row, err := toChangeRow(c)
	if err != nil {
		return domain.AllocationChange{}, fmt.Errorf("encode allocation change: %w", err)
	}
	row.ID = 0
	if err := s.db.Create(&row).Error; err != nil {
		return domain.AllocationChange{}, fmt.Errorf("append allocation change: %w", err)
	}
	out, err := fromChangeRow(row)
	if err != nil {
		return domain.AllocationChange{}, err
	}
	return out, nil
}

// RangeQuery returns changes for a campaign within [from, to], ascending by
// ts, for the read API's explain/history endpoint.
func (s *ChangeStore) RangeQuery(campaignID uint64, from, to time.Time) ([]domain.AllocationChange, error) {
	var rows []allocationChangeRow
	if err := s.db.Where("campaign_id = ? AND ts >= ? AND ts <= ?", campaignID, from, to).
		Order("ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AllocationChange, 0, len(rows))
	for _, r := range rows {
		c, err := fromChangeRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LatestByArm returns, for every arm that has at least one change
// record, the most recent one's NewAlloc — the scheduler's source of
// truth for "previous allocation" at the start of a cycle (arms never
// in this map have no allocation history yet and default to 0).
func (s *ChangeStore) LatestByArm(campaignID uint64) (map[uint64]float64, error) {
	var rows []allocationChangeRow
	if err := s.db.Where("campaign_id = ?", campaignID).Order("ts DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]float64)
	seen := make(map[uint64]bool)
	for _, r := range rows {
		if seen[r.ArmID] {
			continue
		}
		seen[r.ArmID] = true
		out[r.ArmID] = r.NewAlloc
	}
	return out, nil
}

// RetentionSweep deletes change rows older than olderThan. Called
// periodically by the scheduler's housekeeping cycle; returns the number
// of rows removed.
func (s *ChangeStore) RetentionSweep(olderThan time.Time) (int64, error) {
	res := s.db.Where("ts < ?", olderThan).Delete(&allocationChangeRow{})
	return res.RowsAffected, res.Error
}

func toChangeRow(c domain.AllocationChange) (allocationChangeRow, error) {
	factorsJSON, err := json.Marshal(c.Factors)
	if err != nil {
		return allocationChangeRow{}, err
	}
	mmmJSON, err := json.Marshal(c.MMMFactors)
	if err != nil {
		return allocationChangeRow{}, err
	}
	return allocationChangeRow{
		ID:            c.ID,
		CampaignID:    c.CampaignID,
		ArmID:         c.ArmID,
		TS:            c.TS,
		OldAlloc:      c.OldAlloc,
		NewAlloc:      c.NewAlloc,
		ChangePct:     c.ChangePct,
		Reason:        c.Reason,
		FactorsJSON:   string(factorsJSON),
		MMMJSON:       string(mmmJSON),
		InitiatedBy:   string(c.InitiatedBy),
		StateSnapshot: c.StateSnapshot,
	}, nil
}

func fromChangeRow(r allocationChangeRow) (domain.AllocationChange, error) {
	var factors map[string]float64
	if r.FactorsJSON != "" {
		if err := json.Unmarshal([]byte(r.FactorsJSON), &factors); err != nil {
			return domain.AllocationChange{}, err
		}
	}
	var mmmFactors map[string]float64
	if r.MMMJSON != "" {
		if err := json.Unmarshal([]byte(r.MMMJSON), &mmmFactors); err != nil {
			return domain.AllocationChange{}, err
		}
	}
	return domain.AllocationChange{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		ArmID:         r.ArmID,
		TS:            r.TS,
		OldAlloc:      r.OldAlloc,
		NewAlloc:      r.NewAlloc,
		ChangePct:     r.ChangePct,
		Reason:        r.Reason,
		Factors:       factors,
		MMMFactors:    mmmFactors,
		InitiatedBy:   domain.InitiatedBy(r.InitiatedBy),
		StateSnapshot: r.StateSnapshot,
	}, nil
}
