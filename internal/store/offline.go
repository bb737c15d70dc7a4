package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/giftroulette/internal/model"
)

// SpinMarker persists the last spin time in a local file as one RFC 3339
// timestamp.
type SpinMarker struct {
	path string
	mu   sync.Mutex
}

func NewSpinMarker(path string) *SpinMarker {
	return &SpinMarker{path: path}
}

func (m *SpinMarker) Path() string {
	return m.path
}

// Load returns the stored time. A missing or unparseable marker reads as no
// previous spin.
func (m *SpinMarker) Load() (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spin marker: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

// Save replaces the marker atomically.
func (m *SpinMarker) Save(at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".last_spin-*")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(at.Format(time.RFC3339Nano)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

// OfflineStore stands in when the shared store cannot be reached. Nothing is
// shared: every gift looks unclaimed, claims always succeed, and the last spin
// lives in the local marker.
type OfflineStore struct {
	marker *SpinMarker
	logger *slog.Logger

	mu   sync.Mutex
	spin map[int]func(model.SpinRecord)
	next int
}

func NewOfflineStore(marker *SpinMarker, opts ...Option) *OfflineStore {
	return &OfflineStore{
		marker: marker,
		logger: buildOptions(opts).logger,
		spin:   make(map[int]func(model.SpinRecord)),
	}
}

func (s *OfflineStore) Initialize(ctx context.Context) error {
	return nil
}

func (s *OfflineStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	return model.NewSnapshot(), nil
}

func (s *OfflineStore) Subscribe(ctx context.Context, fn func(model.Snapshot)) (func(), error) {
	fn(model.NewSnapshot())
	return func() {}, nil
}

// Claim succeeds without recording anything.
func (s *OfflineStore) Claim(ctx context.Context, giftID string) error {
	return nil
}

func (s *OfflineStore) SpinRecord(ctx context.Context) (model.SpinRecord, error) {
	if s.marker == nil {
		return model.SpinRecord{}, nil
	}
	// An unreadable marker reads as no previous spin.
	last, err := s.marker.Load()
	if err != nil {
		s.logger.Warn("spin marker unreadable, assuming no previous spin", "path", s.marker.Path(), "error", err)
		return model.SpinRecord{}, nil
	}
	return model.SpinRecord{LastSpinAt: last}, nil
}

func (s *OfflineStore) SubscribeSpin(ctx context.Context, fn func(model.SpinRecord)) (func(), error) {
	rec, err := s.SpinRecord(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.spin[id] = fn
	s.mu.Unlock()

	fn(rec)
	return func() {
		s.mu.Lock()
		delete(s.spin, id)
		s.mu.Unlock()
	}, nil
}

func (s *OfflineStore) RecordSpin(ctx context.Context, at time.Time) error {
	if s.marker != nil {
		if err := s.marker.Save(at); err != nil {
			return err
		}
	}

	s.mu.Lock()
	fns := make([]func(model.SpinRecord), 0, len(s.spin))
	for _, fn := range s.spin {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	rec := model.SpinRecord{LastSpinAt: &at}
	for _, fn := range fns {
		fn(rec)
	}
	return nil
}

func (s *OfflineStore) Close() error {
	return nil
}
