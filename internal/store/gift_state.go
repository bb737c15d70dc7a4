package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/database"
	"github.com/dukerupert/giftroulette/internal/model"
)

// NotifyChannel is the postgres channel announcing gift and spin changes.
const NotifyChannel = "gift_states_changed"

// GiftStateStore keeps gift states in SQLite or Postgres. Each claim runs in
// one transaction holding the write lock (SQLite) or the gift row lock
// (Postgres) from the first read to the commit.
type GiftStateStore struct {
	db      *sql.DB
	dialect database.Dialect
	catalog *catalog.Catalog
	opts    options
	subs    *subscribers

	watchOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
	listener  *pq.Listener
}

func NewGiftStateStore(db *sql.DB, dialect database.Dialect, cat *catalog.Catalog, opts ...Option) *GiftStateStore {
	return &GiftStateStore{
		db:      db,
		dialect: dialect,
		catalog: cat,
		opts:    buildOptions(opts),
		subs:    newSubscribers(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// q rewrites ? placeholders for postgres.
func (s *GiftStateStore) q(query string) string {
	if s.dialect != database.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *GiftStateStore) forUpdate() string {
	if s.dialect == database.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

const insertGiftState = `INSERT INTO gift_states (gift_id, claimed_count, updated_at) VALUES (?, 0, ?) ON CONFLICT (gift_id) DO NOTHING`

// Initialize creates a zeroed record for every catalog gift that has none.
// Existing records are left untouched.
func (s *GiftStateStore) Initialize(ctx context.Context) error {
	now := toMillis(s.opts.clock())
	for _, id := range s.catalog.IDs() {
		if _, err := s.db.ExecContext(ctx, s.q(insertGiftState), id, now); err != nil {
			return unavailable("initialize gift states", err)
		}
	}
	return nil
}

// Snapshot reads every gift state in one statement.
func (s *GiftStateStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.gift_id, s.claimed_count, s.last_claimed_at, c.claimed_at
		FROM gift_states s
		LEFT JOIN gift_claims c ON c.gift_id = s.gift_id
		ORDER BY s.gift_id, c.id`)
	if err != nil {
		return model.Snapshot{}, unavailable("list gift states", err)
	}
	defer rows.Close()

	snap := model.NewSnapshot()
	var cur *model.GiftState
	for rows.Next() {
		var (
			giftID    string
			count     int
			lastAt    sql.NullInt64
			claimedAt sql.NullInt64
		)
		if err := rows.Scan(&giftID, &count, &lastAt, &claimedAt); err != nil {
			return model.Snapshot{}, unavailable("scan gift state", err)
		}
		if cur == nil || cur.GiftID != giftID {
			if cur != nil {
				addState(&snap, s.catalog, *cur)
			}
			cur = &model.GiftState{GiftID: giftID, ClaimedCount: count, Claims: []time.Time{}}
			if lastAt.Valid {
				t := fromMillis(lastAt.Int64)
				cur.LastClaimedAt = &t
			}
		}
		if claimedAt.Valid {
			cur.Claims = append(cur.Claims, fromMillis(claimedAt.Int64))
		}
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, unavailable("iterate gift states", err)
	}
	if cur != nil {
		addState(&snap, s.catalog, *cur)
	}
	return snap, nil
}

func (s *GiftStateStore) loadState(ctx context.Context, tx *sql.Tx, giftID string) (model.GiftState, error) {
	st := model.GiftState{GiftID: giftID, Claims: []time.Time{}}

	var lastAt sql.NullInt64
	err := tx.QueryRowContext(ctx,
		s.q(`SELECT claimed_count, last_claimed_at FROM gift_states WHERE gift_id = ?`+s.forUpdate()),
		giftID,
	).Scan(&st.ClaimedCount, &lastAt)
	if err != nil {
		return st, unavailable("get gift state", err)
	}
	if lastAt.Valid {
		t := fromMillis(lastAt.Int64)
		st.LastClaimedAt = &t
	}

	rows, err := tx.QueryContext(ctx, s.q(`SELECT claimed_at FROM gift_claims WHERE gift_id = ? ORDER BY id`), giftID)
	if err != nil {
		return st, unavailable("list gift claims", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return st, unavailable("scan gift claim", err)
		}
		st.Claims = append(st.Claims, fromMillis(ms))
	}
	if err := rows.Err(); err != nil {
		return st, unavailable("iterate gift claims", err)
	}
	return st, nil
}

// Claim atomically records one claim of giftID if the gift is not exhausted
// and, for the wish, not on cooldown.
func (s *GiftStateStore) Claim(ctx context.Context, giftID string) error {
	def, ok := s.catalog.Lookup(giftID)
	if !ok {
		return fmt.Errorf("claim %q: %w", giftID, ErrUnknownGift)
	}

	if err := s.claim(ctx, def); err != nil {
		return err
	}

	if err := s.subs.refresh(ctx, s); err != nil {
		s.opts.logger.Warn("refresh after claim failed", "gift", giftID, "error", err)
	}
	return nil
}

func (s *GiftStateStore) claim(ctx context.Context, def model.GiftDefinition) error {
	now := s.opts.clock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin claim", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(insertGiftState), def.ID, toMillis(now)); err != nil {
		return unavailable("ensure gift state", err)
	}

	st, err := s.loadState(ctx, tx, def.ID)
	if err != nil {
		return err
	}
	if err := checkClaim(def, st, now); err != nil {
		return err
	}

	at := toMillis(claimTime(st, now))
	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE gift_states SET claimed_count = claimed_count + 1, last_claimed_at = ?, updated_at = ? WHERE gift_id = ?`),
		at, toMillis(now), def.ID,
	); err != nil {
		return unavailable("update gift state", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO gift_claims (gift_id, claimed_at) VALUES (?, ?)`), def.ID, at); err != nil {
		return unavailable("insert gift claim", err)
	}
	if err := s.bumpRevision(ctx, tx, def.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit claim", err)
	}
	return nil
}

func (s *GiftStateStore) bumpRevision(ctx context.Context, tx *sql.Tx, payload string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE store_revision SET value = value + 1 WHERE id = 1`); err != nil {
		return unavailable("bump revision", err)
	}
	if s.dialect == database.Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, payload); err != nil {
			return unavailable("notify change", err)
		}
	}
	return nil
}

func (s *GiftStateStore) revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, unavailable("get revision", err)
	}
	return rev, nil
}

func (s *GiftStateStore) SpinRecord(ctx context.Context) (model.SpinRecord, error) {
	var lastAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT last_spin_at FROM spin_state WHERE id = 1`).Scan(&lastAt)
	if err == sql.ErrNoRows {
		return model.SpinRecord{}, nil
	}
	if err != nil {
		return model.SpinRecord{}, unavailable("get spin state", err)
	}
	var rec model.SpinRecord
	if lastAt.Valid {
		t := fromMillis(lastAt.Int64)
		rec.LastSpinAt = &t
	}
	return rec, nil
}

// RecordSpin stores at as the most recent draw.
func (s *GiftStateStore) RecordSpin(ctx context.Context, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin record spin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO spin_state (id, last_spin_at) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET last_spin_at = excluded.last_spin_at`),
		toMillis(at),
	); err != nil {
		return unavailable("upsert spin state", err)
	}
	if err := s.bumpRevision(ctx, tx, "spin"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit record spin", err)
	}

	if err := s.subs.refresh(ctx, s); err != nil {
		s.opts.logger.Warn("refresh after spin failed", "error", err)
	}
	return nil
}

// Subscribe delivers the current snapshot to fn, then a new one after every
// change, including changes written by other processes.
func (s *GiftStateStore) Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error) {
	unsub, err := s.subs.addGift(ctx, s, fn)
	if err != nil {
		return nil, err
	}
	s.watchOnce.Do(s.startWatcher)
	return unsub, nil
}

func (s *GiftStateStore) SubscribeSpin(ctx context.Context, fn func(model.SpinRecord)) (func(), error) {
	unsub, err := s.subs.addSpin(ctx, s, fn)
	if err != nil {
		return nil, err
	}
	s.watchOnce.Do(s.startWatcher)
	return unsub, nil
}

func (s *GiftStateStore) startWatcher() {
	logger := s.opts.logger.With("component", "gift_state_watcher")

	if s.dialect == database.Postgres && s.opts.listenURL != "" {
		l := pq.NewListener(s.opts.listenURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("listener event", "event", ev, "error", err)
			}
		})
		if err := l.Listen(NotifyChannel); err != nil {
			logger.Warn("listen failed, polling only", "error", err)
			l.Close()
		} else {
			s.listener = l
		}
	}

	go s.watch(logger)
}

func (s *GiftStateStore) watch(logger *slog.Logger) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()

	var notify <-chan *pq.Notification
	if s.listener != nil {
		notify = s.listener.Notify
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-notify:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.subs.refresh(ctx, s); err != nil {
			logger.Warn("refresh failed", "error", err)
		}
		cancel()
	}
}

// Close stops the change watcher. The database handle stays open.
func (s *GiftStateStore) Close() error {
	s.closeOnce.Do(func() {
		started := true
		s.watchOnce.Do(func() { started = false })
		close(s.stop)
		if !started {
			return
		}
		<-s.done
		if s.listener != nil {
			s.listener.Close()
		}
	})
	return nil
}
