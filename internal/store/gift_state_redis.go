package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/model"
)

const (
	redisPrefix      = "giftroulette:"
	redisSpinKey     = redisPrefix + "spin"
	redisRevisionKey = redisPrefix + "revision"
	// RedisChannel carries change announcements between processes.
	RedisChannel = redisPrefix + "changes"

	maxClaimRetries = 10
)

func redisGiftKey(id string) string   { return redisPrefix + "gift:" + id }
func redisClaimsKey(id string) string { return redisPrefix + "claims:" + id }

// RedisGiftStateStore keeps gift states in Redis. A claim WATCHes the gift's
// keys and commits with MULTI/EXEC, retrying when another client wins the race.
type RedisGiftStateStore struct {
	client  *redis.Client
	catalog *catalog.Catalog
	opts    options
	subs    *subscribers

	watchOnce sync.Once
	closeOnce sync.Once
	pubsub    *redis.PubSub
	done      chan struct{}
}

func NewRedisGiftStateStore(client *redis.Client, cat *catalog.Catalog, opts ...Option) *RedisGiftStateStore {
	return &RedisGiftStateStore{
		client:  client,
		catalog: cat,
		opts:    buildOptions(opts),
		subs:    newSubscribers(),
		done:    make(chan struct{}),
	}
}

// Initialize sets claimed_count to 0 on every gift hash that lacks it.
func (s *RedisGiftStateStore) Initialize(ctx context.Context) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range s.catalog.IDs() {
			pipe.HSetNX(ctx, redisGiftKey(id), "claimed_count", 0)
		}
		return nil
	})
	if err != nil {
		return unavailable("initialize gift states", err)
	}
	return nil
}

// parseRedisState rebuilds a record from its hash and claims list. ok is
// false when the hash does not exist.
func parseRedisState(id string, fields map[string]string, claims []string) (st model.GiftState, ok bool, err error) {
	st = model.GiftState{GiftID: id, Claims: []time.Time{}}
	if len(fields) == 0 {
		return st, false, nil
	}

	if st.ClaimedCount, err = strconv.Atoi(fields["claimed_count"]); err != nil {
		return st, true, fmt.Errorf("gift %q: bad claimed_count: %w", id, err)
	}
	if raw := fields["last_claimed_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return st, true, fmt.Errorf("gift %q: bad last_claimed_at: %w", id, err)
		}
		t := fromMillis(ms)
		st.LastClaimedAt = &t
	}
	for i, raw := range claims {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return st, true, fmt.Errorf("gift %q: bad claim %d: %w", id, i, err)
		}
		st.Claims = append(st.Claims, fromMillis(ms))
	}
	return st, true, nil
}

func (s *RedisGiftStateStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	ids := s.catalog.IDs()
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	lists := make([]*redis.StringSliceCmd, len(ids))

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = pipe.HGetAll(ctx, redisGiftKey(id))
			lists[i] = pipe.LRange(ctx, redisClaimsKey(id), 0, -1)
		}
		return nil
	})
	if err != nil {
		return model.Snapshot{}, unavailable("list gift states", err)
	}

	snap := model.NewSnapshot()
	for i, id := range ids {
		st, ok, err := parseRedisState(id, hashes[i].Val(), lists[i].Val())
		if err != nil {
			snap.Invalid[id] = err
			continue
		}
		if ok {
			addState(&snap, s.catalog, st)
		}
	}
	return snap, nil
}

// Claim atomically records one claim of giftID.
func (s *RedisGiftStateStore) Claim(ctx context.Context, giftID string) error {
	def, ok := s.catalog.Lookup(giftID)
	if !ok {
		return fmt.Errorf("claim %q: %w", giftID, ErrUnknownGift)
	}

	gk, ck := redisGiftKey(giftID), redisClaimsKey(giftID)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, gk).Result()
		if err != nil {
			return err
		}
		claims, err := tx.LRange(ctx, ck, 0, -1).Result()
		if err != nil {
			return err
		}
		st, _, err := parseRedisState(giftID, fields, claims)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}

		now := s.opts.clock()
		if err := checkClaim(def, st, now); err != nil {
			return err
		}
		at := toMillis(claimTime(st, now))

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, gk, "claimed_count", st.ClaimedCount+1, "last_claimed_at", at)
			pipe.RPush(ctx, ck, at)
			pipe.Incr(ctx, redisRevisionKey)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		err := s.client.Watch(ctx, txf, gk, ck)
		switch {
		case err == nil:
			s.publish(ctx, giftID)
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case Declined(err), errors.Is(err, ErrInvariant):
			return err
		default:
			return unavailable("claim gift", err)
		}
	}
	return unavailable("claim gift", fmt.Errorf("gave up after %d conflicting attempts", maxClaimRetries))
}

func (s *RedisGiftStateStore) publish(ctx context.Context, payload string) {
	if err := s.client.Publish(ctx, RedisChannel, payload).Err(); err != nil {
		s.opts.logger.Warn("publish change failed", "error", err)
	}
	if err := s.subs.refresh(ctx, s); err != nil {
		s.opts.logger.Warn("refresh after change failed", "error", err)
	}
}

func (s *RedisGiftStateStore) revision(ctx context.Context) (int64, error) {
	rev, err := s.client.Get(ctx, redisRevisionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get revision", err)
	}
	return rev, nil
}

func (s *RedisGiftStateStore) SpinRecord(ctx context.Context) (model.SpinRecord, error) {
	ms, err := s.client.Get(ctx, redisSpinKey).Int64()
	if errors.Is(err, redis.Nil) {
		return model.SpinRecord{}, nil
	}
	if err != nil {
		return model.SpinRecord{}, unavailable("get spin state", err)
	}
	t := fromMillis(ms)
	return model.SpinRecord{LastSpinAt: &t}, nil
}

func (s *RedisGiftStateStore) RecordSpin(ctx context.Context, at time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSpinKey, toMillis(at), 0)
		pipe.Incr(ctx, redisRevisionKey)
		return nil
	})
	if err != nil {
		return unavailable("record spin", err)
	}
	s.publish(ctx, "spin")
	return nil
}

func (s *RedisGiftStateStore) Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error) {
	unsub, err := s.subs.addGift(ctx, s, fn)
	if err != nil {
		return nil, err
	}
	s.watchOnce.Do(s.startWatcher)
	return unsub, nil
}

func (s *RedisGiftStateStore) SubscribeSpin(ctx context.Context, fn func(model.SpinRecord)) (func(), error) {
	unsub, err := s.subs.addSpin(ctx, s, fn)
	if err != nil {
		return nil, err
	}
	s.watchOnce.Do(s.startWatcher)
	return unsub, nil
}

func (s *RedisGiftStateStore) startWatcher() {
	logger := s.opts.logger.With("component", "gift_state_watcher")
	s.pubsub = s.client.Subscribe(context.Background(), RedisChannel)

	go func() {
		defer close(s.done)
		for range s.pubsub.Channel() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.subs.refresh(ctx, s); err != nil {
				logger.Warn("refresh failed", "error", err)
			}
			cancel()
		}
	}()
}

// Close stops the Pub/Sub listener. The client stays open.
func (s *RedisGiftStateStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		started := true
		s.watchOnce.Do(func() { started = false })
		if !started {
			return
		}
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}
