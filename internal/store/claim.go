package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/cooldown"
	"github.com/dukerupert/giftroulette/internal/model"
)

// DefaultPollInterval is how often the SQL watcher checks for writes made by
// other processes.
const DefaultPollInterval = time.Second

type options struct {
	clock        func() time.Time
	pollInterval time.Duration
	listenURL    string
	logger       *slog.Logger
}

// Option configures a shared store.
type Option func(*options)

// WithClock overrides the time source used to stamp claims.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithListener enables LISTEN/NOTIFY change propagation on postgres.
func WithListener(connURL string) Option {
	return func(o *options) { o.listenURL = connURL }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:        time.Now,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkClaim applies the claim rules to the current record.
func checkClaim(def model.GiftDefinition, st model.GiftState, now time.Time) error {
	if err := st.Validate(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if def.Exhausted(st.ClaimedCount) {
		return fmt.Errorf("claim %q: %w", def.ID, ErrExhausted)
	}
	if catalog.IsWish(def.ID) && cooldown.WishOnCooldown(st.LastClaim(), now) {
		return fmt.Errorf("claim %q: %w", def.ID, ErrOnCooldown)
	}
	return nil
}

// claimTime keeps the claims list ordered even if the clock steps back.
func claimTime(st model.GiftState, now time.Time) time.Time {
	if last := st.LastClaim(); last != nil && now.Before(*last) {
		return *last
	}
	return now
}

// addState validates st and files it in snap.
func addState(snap *model.Snapshot, cat *catalog.Catalog, st model.GiftState) {
	def, ok := cat.Lookup(st.GiftID)
	if !ok {
		return
	}
	if err := st.Validate(def); err != nil {
		snap.Invalid[st.GiftID] = err
		return
	}
	snap.States[st.GiftID] = st
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
