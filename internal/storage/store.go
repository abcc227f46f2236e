package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gas-price-alerts/internal/config"
)

var (
	// ErrThresholdOutOfRange rejects thresholds outside [0, MaxThreshold].
	ErrThresholdOutOfRange = fmt.Errorf("storage: threshold must be within [0, %d]", MaxThreshold)
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: store closed")
)

// backend persists the flat key/value record.
type backend interface {
	// load returns every stored key.
	load(ctx context.Context) (map[string]string, error)
	// apply runs fn against freshly read values inside one transaction and
	// writes back only the keys fn returns. It returns the committed values.
	apply(ctx context.Context, fn func(current map[string]string) (map[string]string, error)) (map[string]string, error)
	tryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error)
	close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the persisted preference record shared by the update cycle and the UI surface.
type Store struct {
	backend backend
	logger  zerolog.Logger
	now     func() time.Time

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan Record
}

// offer replaces any unread record with rec so writers never block.
func (s *subscriber) offer(rec Record) {
	select {
	case s.ch <- rec:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- rec:
	default:
	}
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func newStore(b backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  logger.With().Str("component", "store").Logger(),
		now:     time.Now,
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds a store for the configured driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger, opts ...Option) (*Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		b, err := openSQLite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return newStore(b, logger, opts...), nil
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b, err := newPostgresBackend(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return newStore(b, logger, opts...), nil
	case config.DriverMemory:
		return NewMemoryStore(logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewMemoryStore returns a non-durable store, used by tests and dry runs.
func NewMemoryStore(logger zerolog.Logger, opts ...Option) *Store {
	return newStore(newMemoryBackend(), logger, opts...)
}

// Close releases the backend and ends all subscriptions.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
	s.subMu.Unlock()

	return s.backend.close()
}

// Read returns the current record with every absent field defaulted.
func (s *Store) Read(ctx context.Context) (Record, error) {
	values, err := s.backend.load(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("read preferences: %w", err)
	}
	return decodeRecord(values, s.now()), nil
}

// Edit applies fn as one atomic read-modify-write. Only the fields fn sets are
// written, so concurrent edits of different fields never overwrite each other.
// Subscribers are notified after the commit.
func (s *Store) Edit(ctx context.Context, fn func(p *Prefs) error) (Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	changed := false
	committed, err := s.backend.apply(ctx, func(current map[string]string) (map[string]string, error) {
		draft := newPrefs(current, now)
		if err := fn(draft); err != nil {
			return nil, err
		}
		changed = len(draft.dirty) > 0
		return draft.dirty, nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("edit preferences: %w", err)
	}

	rec := decodeRecord(committed, now)
	if changed {
		s.publish(rec)
	}
	return rec, nil
}

// SetThreshold stores a user threshold and re-arms the alert.
func (s *Store) SetThreshold(ctx context.Context, value int) (Record, error) {
	if value < 0 || value > MaxThreshold {
		return Record{}, ErrThresholdOutOfRange
	}
	return s.Edit(ctx, func(p *Prefs) error {
		p.SetThreshold(value)
		return nil
	})
}

// SetNotificationsEnabled toggles alerts and re-arms the alert.
func (s *Store) SetNotificationsEnabled(ctx context.Context, enabled bool) (Record, error) {
	return s.Edit(ctx, func(p *Prefs) error {
		p.SetNotificationsEnabled(enabled)
		return nil
	})
}

// Subscribe streams the current record followed by every committed edit.
// A slow reader only receives the newest record. The channel is closed when
// ctx ends or the store closes.
func (s *Store) Subscribe(ctx context.Context) (<-chan Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan Record, 1)}
	sub.ch <- rec

	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil, ErrClosed
	}
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}()

	return sub.ch, nil
}

func (s *Store) publish(rec Record) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.offer(rec)
	}
	s.logger.Debug().Int("subscribers", len(s.subs)).Int("last_gas", rec.Readings.LastGas).Msg("record committed")
}

// TryAdvisoryLock attempts a cross-process lock. Backends without one always acquire.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return s.backend.tryAdvisoryLock(ctx, key)
}

var _ AdvisoryLocker = (*Store)(nil)
