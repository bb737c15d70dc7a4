// Package selector implements the weighted random draw.
package selector

import (
	"errors"
	"math/rand/v2"
)

var (
	ErrNoCandidates  = errors.New("no candidates")
	ErrInvalidWeight = errors.New("candidate weight must be positive")
)

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Candidate pairs an item with its selection weight.
type Candidate[T any] struct {
	Item   T
	Weight float64
}

// Pick draws one item with probability proportional to its weight.
//
// A value r is drawn uniformly from [0, total) and each weight is subtracted
// in order until r drops to zero or below. Rounding can leave r slightly
// positive after the last candidate, in which case the last one wins.
func Pick[T any](src Source, candidates []Candidate[T]) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, ErrNoCandidates
	}

	total := 0.0
	for _, c := range candidates {
		if !(c.Weight > 0) {
			return zero, ErrInvalidWeight
		}
		total += c.Weight
	}

	r := src.Float64() * total
	for _, c := range candidates {
		r -= c.Weight
		if r <= 0 {
			return c.Item, nil
		}
	}
	return candidates[len(candidates)-1].Item, nil
}

// NewSeeded returns a deterministic source for tests and replays.
func NewSeeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewSource returns a randomly seeded source. It is not safe for
// concurrent use.
func NewSource() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
