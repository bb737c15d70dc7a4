// Package roulette runs the weekly gift draw: it keeps the latest gift states
// from the shared store, decides which gifts are available, draws one, and
// drives each player's session from spin to claim.
package roulette

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/cooldown"
	"github.com/dukerupert/giftroulette/internal/model"
	"github.com/dukerupert/giftroulette/internal/selector"
	"github.com/dukerupert/giftroulette/internal/store"
)

// DefaultStartupTimeout bounds the initial connection to the shared store.
const DefaultStartupTimeout = 10 * time.Second

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNothingAvailable  = errors.New("no gift available")
	// ErrOnCooldown is returned by Spin when a draw already happened this
	// week, and by wish claims inside the 7-day window.
	ErrOnCooldown = store.ErrOnCooldown
)

// GiftStateStore is the shared record of claims and spins.
type GiftStateStore interface {
	Initialize(ctx context.Context) error
	Snapshot(ctx context.Context) (model.Snapshot, error)
	Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error)
	Claim(ctx context.Context, giftID string) error
	SpinRecord(ctx context.Context) (model.SpinRecord, error)
	SubscribeSpin(ctx context.Context, fn func(model.SpinRecord)) (func(), error)
	RecordSpin(ctx context.Context, at time.Time) error
	Close() error
}

// Option configures an Engine.
type Option func(*Engine)

func WithStartupTimeout(d time.Duration) Option {
	return func(e *Engine) { e.startupTimeout = d }
}

// WithSource replaces the random source used for draws.
func WithSource(src selector.Source) Option {
	return func(e *Engine) { e.src = src }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithMarker sets the local file mirroring the last spin.
func WithMarker(m *store.SpinMarker) Option {
	return func(e *Engine) { e.marker = m }
}

// WithFallback replaces the store used when the shared one is unreachable.
func WithFallback(s GiftStateStore) Option {
	return func(e *Engine) { e.fallback = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithWishPhone(phone string) Option {
	return func(e *Engine) { e.wishPhone = phone }
}

// OnSnapshot registers a hook called after every accepted snapshot.
func OnSnapshot(fn func(model.Snapshot)) Option {
	return func(e *Engine) { e.onSnapshot = fn }
}

// OnSpin registers a hook called after every accepted spin record.
func OnSpin(fn func(model.SpinRecord)) Option {
	return func(e *Engine) { e.onSpin = fn }
}

// Engine is the process-wide roulette state.
type Engine struct {
	catalog        *catalog.Catalog
	logger         *slog.Logger
	clock          func() time.Time
	startupTimeout time.Duration
	marker         *store.SpinMarker
	fallback       GiftStateStore
	wishPhone      string
	onSnapshot     func(model.Snapshot)
	onSpin         func(model.SpinRecord)

	// spinMu serializes draws and guards src.
	spinMu sync.Mutex
	src    selector.Source

	mu       sync.RWMutex
	store    GiftStateStore
	snapshot model.Snapshot
	lastSpin *time.Time
	loading  bool
	offline  bool
	startErr error
	unsubs   []func()

	sessMu   sync.Mutex
	sessions map[string]*Session
}

func New(primary GiftStateStore, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:        cat,
		logger:         slog.Default(),
		clock:          time.Now,
		startupTimeout: DefaultStartupTimeout,
		store:          primary,
		snapshot:       model.NewSnapshot(),
		loading:        true,
		sessions:       make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.src == nil {
		e.src = selector.NewSource()
	}
	e.logger = e.logger.With("component", "roulette")
	return e
}

type connectResult struct {
	unsubs []func()
	err    error
}

// Start connects to the shared store. If that fails or takes longer than the
// startup timeout, the engine switches to the offline store and Start still
// returns nil; only a failing offline store is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.RLock()
	primary := e.store
	e.mu.RUnlock()

	cctx, cancel := context.WithTimeout(ctx, e.startupTimeout)
	defer cancel()

	done := make(chan connectResult, 1)
	go func() {
		unsubs, err := e.connect(cctx, primary)
		done <- connectResult{unsubs, err}
	}()

	var cause error
	select {
	case r := <-done:
		if r.err == nil {
			e.mu.Lock()
			e.unsubs = r.unsubs
			e.mu.Unlock()
			e.logger.Info("connected to gift store")
			return nil
		}
		cause = r.err
		e.logger.Warn("gift store unavailable, going offline", "error", r.err)
		primary.Close()
	case <-cctx.Done():
		cause = fmt.Errorf("connect gift store: %w", cctx.Err())
		e.logger.Warn("gift store startup timed out, going offline", "timeout", e.startupTimeout)
		// A late connection must not keep feeding the engine.
		go func() {
			r := <-done
			for _, unsub := range r.unsubs {
				unsub()
			}
			primary.Close()
		}()
	}

	return e.goOffline(ctx, cause)
}

// StartOffline skips the shared store entirely, for when it could not even
// be opened. cause is reported by Err.
func (e *Engine) StartOffline(ctx context.Context, cause error) error {
	e.logger.Warn("gift store not opened, going offline", "error", cause)
	return e.goOffline(ctx, cause)
}

func (e *Engine) connect(ctx context.Context, st GiftStateStore) ([]func(), error) {
	if err := st.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize gift store: %w", err)
	}
	unsubGifts, err := st.Subscribe(ctx, func(snap model.Snapshot) {
		e.applySnapshot(st, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe gift states: %w", err)
	}
	unsubSpin, err := st.SubscribeSpin(ctx, func(rec model.SpinRecord) {
		e.applySpin(st, rec)
	})
	if err != nil {
		unsubGifts()
		return nil, fmt.Errorf("subscribe spin state: %w", err)
	}
	return []func(){unsubGifts, unsubSpin}, nil
}

func (e *Engine) goOffline(ctx context.Context, cause error) error {
	off := e.fallback
	if off == nil {
		off = store.NewOfflineStore(e.marker, store.WithLogger(e.logger))
	}

	e.mu.Lock()
	e.store = off
	e.offline = true
	e.startErr = cause
	e.snapshot = model.NewSnapshot()
	e.mu.Unlock()

	unsubs, err := e.connect(ctx, off)
	if err != nil {
		return fmt.Errorf("start offline store: %w", err)
	}

	e.mu.Lock()
	e.unsubs = unsubs
	e.loading = false
	e.mu.Unlock()
	return nil
}

// Close detaches from the active store and closes it.
func (e *Engine) Close() error {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	st := e.store
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return st.Close()
}

func (e *Engine) applySnapshot(from GiftStateStore, snap model.Snapshot) {
	e.mu.Lock()
	if from != e.store {
		e.mu.Unlock()
		return
	}
	e.snapshot = snap
	e.loading = false
	e.mu.Unlock()

	for id, err := range snap.Invalid {
		e.logger.Error("invalid gift state excluded", "gift", id, "error", err)
	}
	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}
}

// applySpin keeps the most recent of the local and stored spin times, so a
// failed remote write never re-opens the week.
func (e *Engine) applySpin(from GiftStateStore, rec model.SpinRecord) {
	e.mu.Lock()
	if from != e.store {
		e.mu.Unlock()
		return
	}
	if rec.LastSpinAt != nil && (e.lastSpin == nil || rec.LastSpinAt.After(*e.lastSpin)) {
		t := *rec.LastSpinAt
		e.lastSpin = &t
	}
	out := model.SpinRecord{LastSpinAt: e.lastSpin}
	e.mu.Unlock()

	if e.onSpin != nil {
		e.onSpin(out)
	}
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Snapshot returns the latest gift states received from the store.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Available lists the gifts that can be drawn now, in catalog order.
func (e *Engine) Available() []model.GiftDefinition {
	return available(e.catalog, e.Snapshot(), e.clock())
}

func available(cat *catalog.Catalog, snap model.Snapshot, now time.Time) []model.GiftDefinition {
	var out []model.GiftDefinition
	for _, def := range cat.All() {
		if snap.IsInvalid(def.ID) {
			continue
		}
		st, _ := snap.State(def.ID)
		if def.Exhausted(st.ClaimedCount) {
			continue
		}
		if catalog.IsWish(def.ID) && cooldown.WishOnCooldown(st.LastClaim(), now) {
			continue
		}
		out = append(out, def)
	}
	return out
}

func (e *Engine) LastSpin() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSpin
}

// OnCooldown reports whether a draw already happened this week.
func (e *Engine) OnCooldown() bool {
	return cooldown.SpunThisWeek(e.LastSpin(), e.clock())
}

func (e *Engine) SpinCooldownDays() int {
	return cooldown.SpinCooldownDays(e.LastSpin(), e.clock())
}

// Loading is true until the first snapshot arrives or the engine goes offline.
func (e *Engine) Loading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loading
}

func (e *Engine) Offline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offline
}

// Err returns why the engine went offline, if it did.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startErr
}

// draw checks the weekly cooldown, picks a gift from the available set and
// records the spin.
func (e *Engine) draw(ctx context.Context) (model.GiftDefinition, error) {
	e.spinMu.Lock()
	defer e.spinMu.Unlock()

	now := e.clock()
	if cooldown.SpunThisWeek(e.LastSpin(), now) {
		return model.GiftDefinition{}, fmt.Errorf("spin: %w", ErrOnCooldown)
	}

	avail := available(e.catalog, e.Snapshot(), now)
	if len(avail) == 0 {
		return model.GiftDefinition{}, ErrNothingAvailable
	}

	cands := make([]selector.Candidate[model.GiftDefinition], len(avail))
	for i, def := range avail {
		cands[i] = selector.Candidate[model.GiftDefinition]{Item: def, Weight: float64(def.Weight)}
	}
	gift, err := selector.Pick(e.src, cands)
	if err != nil {
		return model.GiftDefinition{}, fmt.Errorf("pick gift: %w", err)
	}

	e.recordSpin(ctx, now)
	e.logger.Info("gift drawn", "gift", gift.ID, "available", len(avail))
	return gift, nil
}

// recordSpin is best-effort: the engine's own record is set first, and
// persistence errors are only logged.
func (e *Engine) recordSpin(ctx context.Context, at time.Time) {
	e.mu.Lock()
	e.lastSpin = &at
	st := e.store
	offline := e.offline
	e.mu.Unlock()

	if e.marker != nil && !offline {
		if err := e.marker.Save(at); err != nil {
			e.logger.Warn("save spin marker failed", "error", err)
		}
	}
	if err := st.RecordSpin(ctx, at); err != nil {
		e.logger.Warn("record spin failed", "error", err)
	}
}

// claim forwards to the active store. After a refusal the snapshot is
// re-read so the available set catches up with the other player.
func (e *Engine) claim(ctx context.Context, giftID string) error {
	e.mu.RLock()
	st := e.store
	e.mu.RUnlock()

	err := st.Claim(ctx, giftID)
	switch {
	case err == nil:
		e.logger.Info("gift claimed", "gift", giftID)
		return nil
	case store.Declined(err):
		e.logger.Info("claim declined", "gift", giftID, "reason", err)
		if snap, serr := st.Snapshot(ctx); serr == nil {
			e.applySnapshot(st, snap)
		}
	case errors.Is(err, store.ErrInvariant):
		e.logger.Error("claim hit invalid gift state", "gift", giftID, "error", err)
	default:
		e.logger.Warn("claim failed", "gift", giftID, "error", err)
	}
	return err
}

// NewSession registers a fresh idle session.
func (e *Engine) NewSession() *Session {
	s := &Session{
		id:       uuid.NewString(),
		engine:   e,
		state:    idle{},
		lastUsed: e.clock(),
	}
	e.sessMu.Lock()
	e.sessions[s.id] = s
	e.sessMu.Unlock()
	return s
}

func (e *Engine) Session(id string) (*Session, bool) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

func (e *Engine) DeleteSession(id string) bool {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	_, ok := e.sessions[id]
	delete(e.sessions, id)
	return ok
}

// PruneSessions drops sessions unused for longer than maxIdle and returns how
// many were removed.
func (e *Engine) PruneSessions(maxIdle time.Duration) int {
	cutoff := e.clock().Add(-maxIdle)

	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	n := 0
	for id, s := range e.sessions {
		if s.idleSince().Before(cutoff) {
			delete(e.sessions, id)
			n++
		}
	}
	return n
}
