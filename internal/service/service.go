package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gas-price-alerts/internal/alerting"
	"gas-price-alerts/internal/fetcher"
	"gas-price-alerts/internal/metrics"
	"gas-price-alerts/internal/scheduler"
	"gas-price-alerts/internal/storage"
)

// State is a step of the update cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateEvaluating
	StatePersisting
	StateNotifying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateEvaluating:
		return "evaluating"
	case StatePersisting:
		return "persisting"
	case StateNotifying:
		return "notifying"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is the outcome of one cycle.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	// ResultSkipped means another cycle was in flight and this trigger was dropped.
	ResultSkipped
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Store is the persisted record the cycle edits.
type Store interface {
	Edit(ctx context.Context, fn func(p *storage.Prefs) error) (storage.Record, error)
}

// Options carry optional collaborators.
type Options struct {
	Scheduler *scheduler.Scheduler
	Recorder  metrics.Recorder
	// Locker and LockKey enable a cross-process cycle lock.
	Locker  storage.AdvisoryLocker
	LockKey int64
	Clock   func() time.Time
}

// Service orchestrates fetching, persistence, and alerting.
type Service struct {
	feed     fetcher.GasFeed
	store    Store
	sink     alerting.Sink
	logger   zerolog.Logger
	sched    *scheduler.Scheduler
	recorder metrics.Recorder
	locker   storage.AdvisoryLocker
	lockKey  int64
	now      func() time.Time

	inFlight atomic.Bool
	state    atomic.Int32
}

// New constructs the update service.
func New(feed fetcher.GasFeed, store Store, sink alerting.Sink, logger zerolog.Logger, opts Options) *Service {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		feed:     feed,
		store:    store,
		sink:     sink,
		logger:   logger.With().Str("component", "service").Logger(),
		sched:    opts.Scheduler,
		recorder: recorder,
		locker:   opts.Locker,
		lockKey:  opts.LockKey,
		now:      clock,
	}
}

// Run drives RunCycle from the scheduler until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.sched.Run(ctx, func(ctx context.Context) {
		s.RunCycle(ctx)
	})
}

// State reports the current step of the cycle.
func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(logger zerolog.Logger, st State) {
	s.state.Store(int32(st))
	logger.Debug().Str("state", st.String()).Msg("cycle state")
}

// RunCycle performs one fetch, evaluate, persist and notify pass. Failures are
// logged and reported as ResultFailure; nothing propagates to the caller.
func (s *Service) RunCycle(ctx context.Context) Result {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("cycle already in flight; trigger dropped")
		s.recorder.ObserveCycle(metrics.CycleSkipped, 0)
		return ResultSkipped
	}
	defer s.inFlight.Store(false)

	started := s.now()
	cycleID := uuid.NewString()
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("cycle lock unavailable")
		s.finish(logger, StateFailed, ResultFailure, started)
		return ResultFailure
	}
	if !proceed {
		logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		s.recorder.ObserveCycle(metrics.CycleSkipped, 0)
		return ResultSkipped
	}
	if unlock != nil {
		defer unlock()
	}

	result := s.execute(ctx, cycleID, logger)
	if result == ResultFailure {
		s.finish(logger, StateFailed, result, started)
	} else {
		s.finish(logger, StateIdle, result, started)
	}
	return result
}

func (s *Service) execute(ctx context.Context, cycleID string, logger zerolog.Logger) Result {
	s.setState(logger, StateFetching)
	fetchStarted := s.now()
	feed, err := s.feed.Fetch(ctx)
	s.recorder.ObserveFetch(s.now().Sub(fetchStarted), err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get live gas values")
		return ResultFailure
	}

	s.setState(logger, StateEvaluating)
	latest, recent := normalize(feed)
	observedAt := s.now()

	var alert bool
	var threshold int
	s.setState(logger, StatePersisting)
	_, err = s.store.Edit(ctx, func(p *storage.Prefs) error {
		p.RecordReading(latest, recent, observedAt)

		shouldAlert := p.ShouldNotify()
		target, set := p.Threshold()
		thresholdCrossed := set && target > latest

		// has_notified stays false: alerts repeat every cycle while gas is cheap.
		alert = shouldAlert && thresholdCrossed
		threshold = target
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Int("latest", latest).Msg("failed to persist reading")
		return ResultFailure
	}

	s.recorder.SetLastGas(latest)
	logger.Info().
		Int("latest", latest).
		Str("average_gwei", decimal.New(feed.AverageTenthsGwei, -1).String()).
		Int("recent", len(recent)).
		Bool("alert", alert).
		Msg("reading recorded")

	if alert {
		s.setState(logger, StateNotifying)
		s.recorder.IncAlert()
		s.sink.Emit(ctx, alerting.Notification{
			Price:       latest,
			Threshold:   threshold,
			AverageGwei: decimal.New(feed.AverageTenthsGwei, -1),
			ObservedAt:  observedAt,
			CycleID:     cycleID,
		})
	}

	return ResultSuccess
}

func (s *Service) finish(logger zerolog.Logger, st State, result Result, started time.Time) {
	s.setState(logger, st)
	elapsed := s.now().Sub(started)
	var label metrics.CycleResult
	switch result {
	case ResultSuccess:
		label = metrics.CycleSuccess
	case ResultSkipped:
		label = metrics.CycleSkipped
	default:
		label = metrics.CycleFailure
	}
	s.recorder.ObserveCycle(label, elapsed)
	logger.Debug().Str("result", result.String()).Dur("elapsed", elapsed).Msg("cycle finished")
	if st == StateFailed {
		s.state.Store(int32(StateIdle))
	}
}

// normalize converts tenths of gwei to whole gwei, truncating, and keeps the
// newest MaxRecentValues entries of the history.
func normalize(feed fetcher.FeedResult) (int, []int) {
	latest := int(feed.AverageTenthsGwei / 10)

	values := feed.RecentTenthsGwei
	if len(values) > storage.MaxRecentValues {
		values = values[:storage.MaxRecentValues]
	}
	recent := make([]int, len(values))
	for i, v := range values {
		recent[i] = int(v / 10)
	}
	return latest, recent
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
