package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-price-alerts/internal/alerting"
	"gas-price-alerts/internal/fetcher"
	"gas-price-alerts/internal/storage"
)

type stubFeed struct {
	mu      sync.Mutex
	results []fetcher.FeedResult
	err     error
	calls   int
}

func (f *stubFeed) Fetch(ctx context.Context) (fetcher.FeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return fetcher.FeedResult{}, f.err
	}
	if len(f.results) == 0 {
		return fetcher.FeedResult{}, fmt.Errorf("%w: no more results", fetcher.ErrNetwork)
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

type recordingSink struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (s *recordingSink) Emit(ctx context.Context, note alerting.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
}

func (s *recordingSink) emitted() []alerting.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alerting.Notification(nil), s.notes...)
}

type failingStore struct{}

func (failingStore) Edit(ctx context.Context, fn func(p *storage.Prefs) error) (storage.Record, error) {
	return storage.Record{}, errors.New("disk full")
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store := storage.NewMemoryStore(zerolog.Nop(), storage.WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestService(feed fetcher.GasFeed, store Store, sink alerting.Sink) *Service {
	return New(feed, store, sink, zerolog.Nop(), Options{Clock: func() time.Time { return fixedNow }})
}

func feedOf(average int64, recent ...int64) fetcher.FeedResult {
	return fetcher.FeedResult{AverageTenthsGwei: average, RecentTenthsGwei: recent}
}

func enableAlerts(t *testing.T, store *storage.Store, threshold int) {
	t.Helper()
	ctx := context.Background()
	_, err := store.SetNotificationsEnabled(ctx, true)
	require.NoError(t, err)
	_, err = store.SetThreshold(ctx, threshold)
	require.NoError(t, err)
}

func TestSetThresholdTwiceKeepsReadings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := &recordingSink{}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(800, 800)}}, store, sink)
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))

	for i := 0; i < 2; i++ {
		rec, err := store.SetThreshold(ctx, 40)
		require.NoError(t, err)
		assert.False(t, rec.Readings.HasNotified)
		assert.Equal(t, 80, rec.Readings.LastGas)
		assert.Equal(t, 40, rec.Settings.Threshold)
	}
}

func TestNoAlertWhenNotificationsDisabled(t *testing.T) {
	ctx := context.Background()
	for _, average := range []int64{0, 10, 650, 9990} {
		store := newTestStore(t)
		_, err := store.SetThreshold(ctx, 500)
		require.NoError(t, err)

		sink := &recordingSink{}
		svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(average)}}, store, sink)
		assert.Equal(t, ResultSuccess, svc.RunCycle(ctx))
		assert.Empty(t, sink.emitted(), "average=%d", average)
	}
}

func TestNoAlertWhenThresholdNeverSet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.SetNotificationsEnabled(ctx, true)
	require.NoError(t, err)

	sink := &recordingSink{}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(1)}}, store, sink)
	assert.Equal(t, ResultSuccess, svc.RunCycle(ctx))
	assert.Empty(t, sink.emitted())

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Readings.LastGas)
}

func TestAlertRepeatsEveryCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	enableAlerts(t, store, 70)

	sink := &recordingSink{}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(500), feedOf(500)}}, store, sink)
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))

	notes := sink.emitted()
	require.Len(t, notes, 2)
	for _, note := range notes {
		assert.Equal(t, 50, note.Price)
		assert.Equal(t, 70, note.Threshold)
	}

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Readings.HasNotified)
}

func TestThresholdComparisonIsStrict(t *testing.T) {
	cases := []struct {
		average int64
		alert   bool
	}{
		{700, false},
		{709, false},
		{699, true},
		{690, true},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("average=%d", tc.average), func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			enableAlerts(t, store, 70)

			sink := &recordingSink{}
			svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(tc.average)}}, store, sink)
			require.Equal(t, ResultSuccess, svc.RunCycle(ctx))
			if tc.alert {
				assert.Len(t, sink.emitted(), 1)
			} else {
				assert.Empty(t, sink.emitted())
			}
		})
	}
}

func TestFetchFailureLeavesReadingsUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	enableAlerts(t, store, 500)

	feed := &stubFeed{results: []fetcher.FeedResult{feedOf(420, 430, 410)}}
	sink := &recordingSink{}
	svc := newTestService(feed, store, sink)
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))
	before, err := store.Read(ctx)
	require.NoError(t, err)

	for _, sentinel := range []error{fetcher.ErrNetwork, fetcher.ErrParse} {
		feed.err = fmt.Errorf("%w: boom", sentinel)
		assert.Equal(t, ResultFailure, svc.RunCycle(ctx))

		after, err := store.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.Readings, after.Readings)
	}
	assert.Len(t, sink.emitted(), 1, "only the successful cycle alerts")
	assert.Equal(t, StateIdle, svc.State())
}

func TestAverageConvertedToWholeGwei(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(700, 709, 691)}}, store, &recordingSink{})
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, rec.Readings.LastGas)
	assert.Equal(t, []int{70, 69}, rec.Readings.RecentGasValues)
	assert.Equal(t, fixedNow.UnixMilli(), rec.Readings.LastUpdateEpochMs)
}

func TestFreshInstallToFirstAlert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Settings.NotificationsEnabled)
	assert.False(t, rec.Settings.ThresholdSet)
	assert.Equal(t, storage.NoReading, rec.Readings.LastGas)

	enableAlerts(t, store, 70)

	sink := &recordingSink{}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(650, 700, 680, 655)}}, store, sink)
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))

	rec, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 65, rec.Readings.LastGas)
	assert.Equal(t, []int{70, 68, 65}, rec.Readings.RecentGasValues)

	notes := sink.emitted()
	require.Len(t, notes, 1)
	assert.Equal(t, 65, notes[0].Price)
	assert.Equal(t, 70, notes[0].Threshold)
	assert.Equal(t, "65", notes[0].AverageGwei.String())
	assert.NotEmpty(t, notes[0].CycleID)
}

func TestRecentValuesCappedToNewest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	recent := make([]int64, 60)
	for i := range recent {
		recent[i] = int64(i * 10)
	}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(100, recent...)}}, store, &recordingSink{})
	require.Equal(t, ResultSuccess, svc.RunCycle(ctx))

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Readings.RecentGasValues, storage.MaxRecentValues)
	assert.Equal(t, 0, rec.Readings.RecentGasValues[0])
	assert.Equal(t, 49, rec.Readings.RecentGasValues[storage.MaxRecentValues-1])
}

func TestStoreFailureDoesNotNotify(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(&stubFeed{results: []fetcher.FeedResult{feedOf(10)}}, failingStore{}, sink)
	assert.Equal(t, ResultFailure, svc.RunCycle(context.Background()))
	assert.Empty(t, sink.emitted())
}

type blockingFeed struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFeed) Fetch(ctx context.Context) (fetcher.FeedResult, error) {
	close(f.entered)
	<-f.release
	return feedOf(300), nil
}

func TestOverlappingCycleSkipped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feed := &blockingFeed{entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(feed, store, &recordingSink{})

	done := make(chan Result, 1)
	go func() { done <- svc.RunCycle(ctx) }()

	<-feed.entered
	assert.Equal(t, StateFetching, svc.State())
	assert.Equal(t, ResultSkipped, svc.RunCycle(ctx))

	close(feed.release)
	assert.Equal(t, ResultSuccess, <-done)
	assert.Equal(t, StateIdle, svc.State())
}

type gateFeed struct {
	entered chan struct{}
	release chan struct{}
}

func (f *gateFeed) Fetch(ctx context.Context) (fetcher.FeedResult, error) {
	f.entered <- struct{}{}
	<-f.release
	return feedOf(300), nil
}

func TestSettingsEditDuringCycleSurvives(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feed := &gateFeed{entered: make(chan struct{}), release: make(chan struct{})}
	sink := &recordingSink{}
	svc := newTestService(feed, store, sink)

	done := make(chan Result, 1)
	go func() { done <- svc.RunCycle(ctx) }()

	<-feed.entered
	enableAlerts(t, store, 40)
	close(feed.release)
	require.Equal(t, ResultSuccess, <-done)

	rec, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Settings.NotificationsEnabled)
	assert.Equal(t, 40, rec.Settings.Threshold)
	assert.Equal(t, 30, rec.Readings.LastGas)
	assert.Len(t, sink.emitted(), 1, "the cycle sees settings committed before its write")
}

type heldLocker struct{ acquired bool }

func (l heldLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, l.acquired, nil
}

func TestAdvisoryLockHeldElsewhereSkips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feed := &stubFeed{results: []fetcher.FeedResult{feedOf(300)}}

	svc := New(feed, store, &recordingSink{}, zerolog.Nop(), Options{Locker: heldLocker{}, LockKey: 42})
	assert.Equal(t, ResultSkipped, svc.RunCycle(ctx))
	assert.Zero(t, feed.calls)

	svc = New(feed, store, &recordingSink{}, zerolog.Nop(), Options{Locker: heldLocker{acquired: true}, LockKey: 42})
	assert.Equal(t, ResultSuccess, svc.RunCycle(ctx))
	assert.Equal(t, 1, feed.calls)
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := newTestService(&stubFeed{}, newTestStore(t), &recordingSink{})
	assert.Error(t, svc.Run(context.Background()))
}
