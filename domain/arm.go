// Package domain holds the canonical entity definitions and invariants for
// campaigns, arms, posteriors, metrics and allocation changes. It performs
// construction and validation only; no I/O, no persistence, no scheduling.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Arm is an immutable (platform, channel, creative, bid) tuple, the atomic
// unit of budget allocation. Arms belong to exactly one campaign.
type Arm struct {
	ID         uint64
	CampaignID uint64
	Platform   string
	Channel    string
	Creative   string
	Bid        float64
	Disabled   bool
}

// Key returns the deterministic arm_key: the concatenation of the four
// tuple fields, stable across process restarts.
func (a Arm) Key() string {
	return fmt.Sprintf("%s|%s|%s|%.6f", a.Platform, a.Channel, a.Creative, a.Bid)
}

// ValidateArm rejects negative bids, empty tuple fields, and is used by
// AddArm to reject duplicate arm_key within a campaign.
func ValidateArm(a Arm) error {
	if strings.TrimSpace(a.Platform) == "" {
		return errors.New("domain: arm platform must not be empty")
	}
	if strings.TrimSpace(a.Channel) == "" {
		return errors.New("domain: arm channel must not be empty")
	}
	if strings.TrimSpace(a.Creative) == "" {
		return errors.New("domain: arm creative must not be empty")
	}
	if a.Bid < 0 {
		return fmt.Errorf("domain: arm bid must be non-negative, got %f", a.Bid)
	}
	return nil
}

// AddArm validates arm against campaign invariants (non-empty fields,
// non-negative bid, unique arm_key within the campaign) and returns the arm
// stamped with the campaign's ID. It does not persist anything; the caller
// is expected to hand the result to the posterior store.
func AddArm(c Campaign, a Arm, existing []Arm) (Arm, error) {
	if err := ValidateArm(a); err != nil {
		return Arm{}, err
	}
	a.CampaignID = c.ID
	key := a.Key()
	for _, other := range existing {
		if other.Key() == key {
			return Arm{}, fmt.Errorf("domain: duplicate arm_key %q in campaign %d", key, c.ID)
		}
	}
	return a, nil
}
