package store

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/giftroulette/internal/model"
)

// source is what a shared store exposes to its fan-out.
type source interface {
	revision(ctx context.Context) (int64, error)
	Snapshot(ctx context.Context) (model.Snapshot, error)
	SpinRecord(ctx context.Context) (model.SpinRecord, error)
}

// subscribers tracks snapshot and spin callbacks and delivers a fresh read
// whenever the store revision moves. Callbacks run with refreshMu held, so
// they must not call back into the store.
type subscribers struct {
	mu   sync.Mutex
	gift map[int]func(model.Snapshot)
	spin map[int]func(model.SpinRecord)
	next int

	refreshMu sync.Mutex
	lastRev   int64
	lastSpin  *time.Time
	spinSeen  bool
}

func newSubscribers() *subscribers {
	return &subscribers{
		gift:    make(map[int]func(model.Snapshot)),
		spin:    make(map[int]func(model.SpinRecord)),
		lastRev: -1,
	}
}

func (s *subscribers) addGift(ctx context.Context, src source, fn func(model.Snapshot)) (func(), error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	snap, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.gift[id] = fn
	s.mu.Unlock()

	fn(snap)

	return func() {
		s.mu.Lock()
		delete(s.gift, id)
		s.mu.Unlock()
	}, nil
}

func (s *subscribers) addSpin(ctx context.Context, src source, fn func(model.SpinRecord)) (func(), error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	rec, err := src.SpinRecord(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.spin[id] = fn
	s.mu.Unlock()

	s.spinSeen = true
	s.lastSpin = rec.LastSpinAt
	fn(rec)

	return func() {
		s.mu.Lock()
		delete(s.spin, id)
		s.mu.Unlock()
	}, nil
}

func (s *subscribers) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gift) == 0 && len(s.spin) == 0
}

// refresh re-reads the store if its revision changed and notifies every
// subscriber. Spin subscribers only hear about actual spin changes.
func (s *subscribers) refresh(ctx context.Context, src source) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.empty() {
		return nil
	}

	rev, err := src.revision(ctx)
	if err != nil {
		return err
	}
	if rev == s.lastRev {
		return nil
	}

	snap, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}
	rec, err := src.SpinRecord(ctx)
	if err != nil {
		return err
	}
	s.lastRev = rev

	s.mu.Lock()
	giftFns := make([]func(model.Snapshot), 0, len(s.gift))
	for _, fn := range s.gift {
		giftFns = append(giftFns, fn)
	}
	spinFns := make([]func(model.SpinRecord), 0, len(s.spin))
	for _, fn := range s.spin {
		spinFns = append(spinFns, fn)
	}
	s.mu.Unlock()

	for _, fn := range giftFns {
		fn(snap)
	}

	if s.spinSeen && sameTime(s.lastSpin, rec.LastSpinAt) {
		return nil
	}
	s.spinSeen = true
	s.lastSpin = rec.LastSpinAt
	for _, fn := range spinFns {
		fn(rec)
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
