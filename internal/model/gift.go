package model

import (
	"fmt"
	"time"
)

// GiftDefinition is one reward kind of the catalog. It never changes at runtime.
type GiftDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Color       string `json:"color"`
	MaxClaims   *int   `json:"max_claims"` // nil = unbounded
	Weight      int    `json:"weight"`
}

// Unbounded reports whether the gift can be claimed any number of times.
func (d GiftDefinition) Unbounded() bool {
	return d.MaxClaims == nil
}

// Exhausted reports whether claimed has reached the gift's limit.
func (d GiftDefinition) Exhausted(claimed int) bool {
	return d.MaxClaims != nil && claimed >= *d.MaxClaims
}

// Remaining returns how many claims are left. ok is false for unbounded gifts.
func (d GiftDefinition) Remaining(claimed int) (n int, ok bool) {
	if d.MaxClaims == nil {
		return 0, false
	}
	n = *d.MaxClaims - claimed
	if n < 0 {
		n = 0
	}
	return n, true
}

// GiftState is the durable per-gift record shared by every client.
type GiftState struct {
	GiftID        string      `json:"gift_id"`
	ClaimedCount  int         `json:"claimed_count"`
	LastClaimedAt *time.Time  `json:"last_claimed_at"`
	Claims        []time.Time `json:"claims"`
}

// LastClaim returns the most recent claim timestamp, or nil.
func (s GiftState) LastClaim() *time.Time {
	if len(s.Claims) == 0 {
		return nil
	}
	t := s.Claims[len(s.Claims)-1]
	return &t
}

// Validate checks the record against its definition.
func (s GiftState) Validate(def GiftDefinition) error {
	if s.ClaimedCount < 0 {
		return fmt.Errorf("gift %q: negative claimed count %d", s.GiftID, s.ClaimedCount)
	}
	if s.ClaimedCount != len(s.Claims) {
		return fmt.Errorf("gift %q: claimed count %d does not match %d claims", s.GiftID, s.ClaimedCount, len(s.Claims))
	}
	if def.MaxClaims != nil && s.ClaimedCount > *def.MaxClaims {
		return fmt.Errorf("gift %q: claimed count %d exceeds limit %d", s.GiftID, s.ClaimedCount, *def.MaxClaims)
	}
	for i := 1; i < len(s.Claims); i++ {
		if s.Claims[i].Before(s.Claims[i-1]) {
			return fmt.Errorf("gift %q: claims out of order at index %d", s.GiftID, i)
		}
	}
	if len(s.Claims) > 0 && s.LastClaimedAt == nil {
		return fmt.Errorf("gift %q: claims recorded without last_claimed_at", s.GiftID)
	}
	return nil
}

// SpinRecord tracks the most recent draw, used only for the weekly cooldown.
type SpinRecord struct {
	LastSpinAt *time.Time `json:"last_spin_at"`
}

// Snapshot is the full set of gift states at one point in time.
type Snapshot struct {
	States map[string]GiftState `json:"states"`
	// Invalid holds records that failed validation, keyed by gift id.
	Invalid map[string]error `json:"-"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		States:  make(map[string]GiftState),
		Invalid: make(map[string]error),
	}
}

// State returns the record for id, or a zeroed record when absent.
func (s Snapshot) State(id string) (GiftState, bool) {
	st, ok := s.States[id]
	if !ok {
		return GiftState{GiftID: id, Claims: []time.Time{}}, false
	}
	return st, true
}

// IsInvalid reports whether id failed validation.
func (s Snapshot) IsInvalid(id string) bool {
	_, bad := s.Invalid[id]
	return bad
}
