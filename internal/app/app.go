package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gas-price-alerts/internal/alerting"
	"gas-price-alerts/internal/config"
	"gas-price-alerts/internal/fetcher"
	"gas-price-alerts/internal/metrics"
	"gas-price-alerts/internal/publish"
	"gas-price-alerts/internal/scheduler"
	"gas-price-alerts/internal/service"
	"gas-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	root zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		root:   logger,
	}
}

func (a *App) newFeed() (fetcher.GasFeed, func()) {
	cfg := a.Config.Feed
	if cfg.Source == config.FeedSourceRPC {
		feed := fetcher.NewRPCFeed(fetcher.RPCOptions{
			RPCURL:        cfg.RPCURL,
			HistoryBlocks: cfg.HistoryBlocks,
			Timeout:       cfg.RequestTimeout,
		}, a.root)
		return feed, feed.Close
	}

	feed := fetcher.NewHTTPFeed(fetcher.HTTPOptions{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.root)
	return feed, func() {}
}

func (a *App) newSink() *alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if a.Config.Alerting.Log.Enabled {
		notifiers = append(notifiers, alerting.NewLogNotifier(a.root))
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.root))
	}
	return alerting.NewDispatcher(a.root, notifiers...)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Storage, a.root)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.Storage.Driver, err)
	}
	return store, nil
}

// startMetrics serves the Prometheus handler until ctx ends.
func (a *App) startMetrics(ctx context.Context) metrics.Recorder {
	if !a.Config.Metrics.Enabled {
		return metrics.NoopRecorder{}
	}

	recorder := metrics.NewPrometheusRecorder(nil)
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, recorder.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info().Str("listen", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return recorder
}

// trackRecord mirrors every committed record into the settings gauges.
func (a *App) trackRecord(records <-chan storage.Record, recorder metrics.Recorder) {
	for rec := range records {
		recorder.SetThreshold(rec.Settings.Threshold, rec.Settings.ThresholdSet)
		recorder.SetNotificationsEnabled(rec.Settings.NotificationsEnabled)
		if rec.Readings.LastGas != storage.NoReading {
			recorder.SetLastGas(rec.Readings.LastGas)
		}
		a.Logger.Debug().
			Int("last_gas", rec.Readings.LastGas).
			Int("threshold", rec.Settings.Threshold).
			Bool("notifications", rec.Settings.NotificationsEnabled).
			Msg("record updated")
	}
}

func (a *App) startPublisher(ctx context.Context, store *storage.Store) (func(), error) {
	if !a.Config.Publish.Redis.Enabled {
		return func() {}, nil
	}

	publisher, err := publish.NewPublisher(ctx, a.Config.Publish.Redis, a.root)
	if err != nil {
		return nil, err
	}
	records, err := store.Subscribe(ctx)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}
	go publisher.Run(ctx, records)
	return func() { _ = publisher.Close() }, nil
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := a.startMetrics(ctx)
	records, err := store.Subscribe(ctx)
	if err != nil {
		return err
	}
	go a.trackRecord(records, recorder)

	stopPublisher, err := a.startPublisher(ctx, store)
	if err != nil {
		return err
	}
	defer stopPublisher()

	feed, closeFeed := a.newFeed()
	defer closeFeed()

	sink := a.newSink()
	if sink.Len() == 0 {
		a.Logger.Warn().Msg("no alert channel enabled; alerts will be dropped")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:   a.Config.Scheduler.Interval,
		RunOnStart: a.Config.Scheduler.RunOnStart,
	}, a.root)

	svc := service.New(feed, store, sink, a.root, service.Options{
		Scheduler: sched,
		Recorder:  recorder,
		Locker:    store,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	})

	a.Logger.Info().
		Str("feed", a.Config.Feed.Source).
		Str("storage", a.Config.Storage.Driver).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting gas price service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("gas price service stopped")
	return nil
}

// Poll runs one update cycle immediately.
func (a *App) Poll(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	feed, closeFeed := a.newFeed()
	defer closeFeed()

	svc := service.New(feed, store, a.newSink(), a.root, service.Options{
		Locker:  store,
		LockKey: a.Config.Scheduler.AdvisoryLockKey,
	})
	result := svc.RunCycle(ctx)
	switch result {
	case service.ResultFailure:
		return errors.New("update cycle failed; see logs")
	case service.ResultSkipped:
		fmt.Fprintln(a.Out, "another update cycle is running; skipped")
		return nil
	}

	rec, err := store.Read(ctx)
	if err != nil {
		return err
	}
	a.announce(ctx, rec)
	return a.printRecord(rec)
}

// announce publishes rec once for commands that exit right after a commit.
func (a *App) announce(ctx context.Context, rec storage.Record) {
	if !a.Config.Publish.Redis.Enabled {
		return
	}
	publisher, err := publish.NewPublisher(ctx, a.Config.Publish.Redis, a.root)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; record not published")
		return
	}
	defer publisher.Close()
	if err := publisher.Publish(ctx, rec); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to publish record")
	}
}
