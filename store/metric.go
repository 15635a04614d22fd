package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adbudget/domain"
)

// RecordResult reports whether RecordMetric inserted a new row, ignored a
// byte-identical duplicate, or overwrote an existing row for the same
// (arm_id, ts, source) key with differing values (SupersededWebhook; a
// poll row and a webhook row never share a key).
type RecordResult int

const (
	Inserted RecordResult = iota
	DuplicateIgnored
	SupersededWebhook
)

// MetricStore persists domain.Metric rows, keyed by (arm_id, ts, source)
// per invariant I4.
type MetricStore struct {
	db *gorm.DB
}

// NewMetricStore constructs a MetricStore bound to gdb.
func NewMetricStore(gdb *gorm.DB) *MetricStore {
	return &MetricStore{db: gdb}
}

func (s *MetricStore) initTables() error {
	return s.db.AutoMigrate(&metricRow{})
}

// RecordMetric is idempotent on (arm_id, ts, source): re-submitting an
// identical row is a no-op (DuplicateIgnored); a differing row for the
// same key overwrites (this only happens for the same source re-polling
// the same window with a corrected value — poll vs. webhook for the same
// window are different composite keys entirely, per spec.md §4.4).
func (s *MetricStore) RecordMetric(m domain.Metric) (RecordResult, error) {
	var existing metricRow
	err := s.db.First(&existing, "arm_id = ? AND ts = ? AND source = ?", m.ArmID, m.TS, string(m.Source)).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := toMetricRow(m)
		if err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "arm_id"}, {Name: "ts"}, {Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"impressions", "clicks", "conversions", "cost", "revenue", "quality"}),
		}).Create(&row).Error; err != nil {
			return 0, err
		}
		return Inserted, nil
	case err != nil:
		return 0, err
	}

	if sameMetricValues(existing, m) {
		return DuplicateIgnored, nil
	}
	row := toMetricRow(m)
	if err := s.db.Model(&metricRow{}).
		Where("arm_id = ? AND ts = ? AND source = ?", m.ArmID, m.TS, string(m.Source)).
		Updates(map[string]any{
			"impressions": row.Impressions,
			"clicks":      row.Clicks,
			"conversions": row.Conversions,
			"cost":        row.Cost,
			"revenue":     row.Revenue,
			"quality":     row.Quality,
		}).Error; err != nil {
		return 0, err
	}
	return SupersededWebhook, nil
}

// PollValueFor returns the poll-sourced row for (arm_id, ts), if any. Used
// by the ingest pipeline to decide whether an incoming webhook hint's
// delta versus the authoritative poll value is large enough to trigger an
// out-of-cycle posterior update.
func (s *MetricStore) PollValueFor(armID uint64, ts time.Time) (domain.Metric, bool, error) {
	var row metricRow
	err := s.db.First(&row, "arm_id = ? AND ts = ? AND source = ?", armID, ts, string(domain.SourcePoll)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Metric{}, false, nil
	}
	if err != nil {
		return domain.Metric{}, false, err
	}
	return fromMetricRow(row), true, nil
}

// RangeByArm returns metrics for an arm within [from, to], ascending by ts.
func (s *MetricStore) RangeByArm(armID uint64, from, to time.Time) ([]domain.Metric, error) {
	var rows []metricRow
	if err := s.db.Where("arm_id = ? AND ts >= ? AND ts <= ?", armID, from, to).Order("ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Metric, len(rows))
	for i, r := range rows {
		out[i] = fromMetricRow(r)
	}
	return out, nil
}

func sameMetricValues(r metricRow, m domain.Metric) bool {
	return r.Impressions == m.Impressions &&
		r.Clicks == m.Clicks &&
		r.Conversions == m.Conversions &&
		r.Cost == m.Cost &&
		r.Revenue == m.Revenue &&
		r.Quality == string(m.Quality)
}

func toMetricRow(m domain.Metric) metricRow {
	return metricRow{
		ArmID:       m.ArmID,
		TS:          m.TS,
		Source:      string(m.Source),
		Impressions: m.Impressions,
		Clicks:      m.Clicks,
		Conversions: m.Conversions,
		Cost:        m.Cost,
		Revenue:     m.Revenue,
		Quality:     string(m.Quality),
	}
}

func fromMetricRow(r metricRow) domain.Metric {
	return domain.Metric{
		ArmID:       r.ArmID,
		TS:          r.TS,
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		Conversions: r.Conversions,
		Cost:        r.Cost,
		Revenue:     r.Revenue,
		Source:      domain.MetricSource(r.Source),
		Quality:     domain.MetricQuality(r.Quality),
	}
}
