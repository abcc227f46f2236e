package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次低价提醒。
type Notification struct {
	Price       int
	Threshold   int
	AverageGwei decimal.Decimal
	ObservedAt  time.Time
	CycleID     string
}

// Notifier delivers a notification over one channel and reports failures.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, note Notification) error
}

// Sink emits alerts on behalf of the update cycle. Emit never fails from the
// caller's point of view.
type Sink interface {
	Emit(ctx context.Context, note Notification)
}

// Dispatcher fans a notification out to every notifier, logging and
// swallowing their errors.
type Dispatcher struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewDispatcher builds a sink over the given notifiers. Nil entries are skipped.
func NewDispatcher(logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Dispatcher{
		notifiers: active,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Len returns the number of configured notifiers.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Emit delivers note to every notifier.
func (d *Dispatcher) Emit(ctx context.Context, note Notification) {
	if len(d.notifiers) == 0 {
		d.logger.Warn().Int("price", note.Price).Msg("no notifier configured; alert dropped")
		return
	}
	for _, n := range d.notifiers {
		d.notifyOne(ctx, n, note)
	}
}

func (d *Dispatcher) notifyOne(ctx context.Context, n Notifier, note Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("notifier", n.Name()).Interface("panic", r).Msg("notifier panicked")
		}
	}()
	if err := n.Notify(ctx, note); err != nil {
		d.logger.Error().Err(err).Str("notifier", n.Name()).Str("cycle_id", note.CycleID).Msg("failed to dispatch alert")
	}
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Name identifies the notifier in logs.
func (n *LogNotifier) Name() string { return "log" }

// Notify logs the alert text.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Int("price", note.Price).
		Int("threshold", note.Threshold).
		Str("cycle_id", note.CycleID).
		Msg(renderMessage(note))
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("Gas Tracker Alert\n")
	builder.WriteString(fmt.Sprintf("Right now gas is %d gwei, which is below your alert amount of %d gwei!\n", note.Price, note.Threshold))
	if !note.AverageGwei.IsZero() {
		builder.WriteString(fmt.Sprintf("Average: %s gwei\n", note.AverageGwei.StringFixed(1)))
	}
	if !note.ObservedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Observed: %s UTC", note.ObservedAt.UTC().Format(time.RFC3339)))
	}
	return strings.TrimRight(builder.String(), "\n")
}

var (
	_ Sink     = (*Dispatcher)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
