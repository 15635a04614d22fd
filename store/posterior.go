package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adbudget/domain"
)

// PosteriorStore persists domain.ArmPosterior rows and serializes
// per-arm updates with an in-process lock, in addition to the database
// row lock taken for the duration of the transaction — the in-process
// lock avoids queueing unrelated goroutines behind the database driver's
// single-connection-per-write behavior under SQLite.
type PosteriorStore struct {
	db *gorm.DB

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex
}

// NewPosteriorStore constructs a PosteriorStore bound to gdb.
func NewPosteriorStore(gdb *gorm.DB) *PosteriorStore {
	return &PosteriorStore{db: gdb, locks: make(map[uint64]*sync.Mutex)}
}

func (s *PosteriorStore) initTables() error {
	return s.db.AutoMigrate(&posteriorRow{})
}

func (s *PosteriorStore) lockFor(armID uint64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[armID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[armID] = l
	}
	return l
}

// Get loads the posterior for a single arm, lazily materializing the
// Beta(1,1) prior if none has been observed yet.
func (s *PosteriorStore) Get(armID uint64) (domain.ArmPosterior, error) {
	var row posteriorRow
	err := s.db.First(&row, "arm_id = ?", armID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewArmPosterior(armID), nil
	}
	if err != nil {
		return domain.ArmPosterior{}, err
	}
	return fromPosteriorRow(row), nil
}

// Snapshot returns a consistent, copy-on-read view of every arm's
// posterior for a campaign. Readers take no long-held lock: each row is
// read independently, and the per-arm lock only ever gates writers, so a
// concurrent UpdatePosterior either fully precedes or fully follows a
// given row's read here (snapshot isolation per arm, not across arms).
func (s *PosteriorStore) Snapshot(armIDs []uint64) (map[uint64]domain.ArmPosterior, error) {
	out := make(map[uint64]domain.ArmPosterior, len(armIDs))
	if len(armIDs) == 0 {
		return out, nil
	}
	var rows []posteriorRow
	if err := s.db.Where("arm_id IN ?", armIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	seen := make(map[uint64]bool, len(rows))
	for _, r := range rows {
		out[r.ArmID] = fromPosteriorRow(r)
		seen[r.ArmID] = true
	}
	for _, id := range armIDs {
		if !seen[id] {
			out[id] = domain.NewArmPosterior(id)
		}
	}
	return out, nil
}

// UpdatePosterior applies a batched reward/cost/impressions delta to an
// arm's posterior inside a transaction, holding the arm's lock for the
// duration: alpha += rewardSuccess, beta += rewardFailure, spend += cost,
// reward_sum/reward_sq_sum accrue the continuous ROAS reward, trials
// accrue by impressions (capped by maxTrialsPerCycle by the caller before
// this is invoked, since the cap is a per-cycle policy, not a storage
// concern).
func (s *PosteriorStore) UpdatePosterior(armID uint64, rewardSuccess, rewardFailure, reward, cost float64, impressions int64, now time.Time) (domain.ArmPosterior, error) {
	if rewardSuccess < 0 || rewardFailure < 0 || cost < 0 || impressions < 0 {
		return domain.ArmPosterior{}, fmt.Errorf("store: UpdatePosterior rejects negative deltas for arm %d", armID)
	}

	lock := s.lockFor(armID)
	lock.Lock()
	defer lock.Unlock()

	var updated domain.ArmPosterior
	err := s.db.Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			// SQLite already serializes writers at the connection-pool
			// level (size 1); Postgres needs an explicit row lock for the
			// same "hold the arm for the duration" guarantee.
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row posteriorRow
		err := q.First(&row, "arm_id = ?", armID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = posteriorRow{ArmID: armID, Alpha: domain.PriorAlpha, Beta: domain.PriorBeta}
		} else if err != nil {
			return err
		}

		row.Alpha += rewardSuccess
		row.Beta += rewardFailure
		row.Spend += cost
		row.RewardSum += reward
		row.RewardSqSum += reward * reward
		row.Trials += float64(impressions)
		row.UpdatedTS = now

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		updated = fromPosteriorRow(row)
		return nil
	})
	if err != nil {
		return domain.ArmPosterior{}, fmt.Errorf("update posterior for arm %d: %w", armID, err)
	}
	return updated, nil
}

func fromPosteriorRow(r posteriorRow) domain.ArmPosterior {
	return domain.ArmPosterior{
		ArmID:       r.ArmID,
		Alpha:       r.Alpha,
		Beta:        r.Beta,
		Spend:       r.Spend,
		RewardSum:   r.RewardSum,
		RewardSqSum: r.RewardSqSum,
		Trials:      r.Trials,
		UpdatedTS:   r.UpdatedTS,
	}
}
