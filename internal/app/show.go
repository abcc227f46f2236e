package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"gas-price-alerts/internal/storage"
)

// Show prints the persisted record.
func (a *App) Show(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Read(ctx)
	if err != nil {
		return err
	}
	return a.printRecord(rec)
}

func (a *App) printRecord(rec storage.Record) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)

	threshold := fmt.Sprintf("%d gwei", rec.Settings.Threshold)
	if !rec.Settings.ThresholdSet {
		threshold += " (default, not set)"
	}
	alerts := "off"
	if rec.Settings.NotificationsEnabled {
		alerts = "on"
	}

	lastGas := "no reading yet"
	updated := "never"
	if rec.Readings.LastGas != storage.NoReading {
		lastGas = fmt.Sprintf("%d gwei", rec.Readings.LastGas)
		at := rec.Readings.LastUpdate()
		updated = fmt.Sprintf("%s (%s)", humanize.Time(at), at.UTC().Format(time.RFC3339))
	}

	fmt.Fprintf(writer, "Notifications\t%s\n", alerts)
	fmt.Fprintf(writer, "Threshold\t%s\n", threshold)
	fmt.Fprintf(writer, "Last gas\t%s\n", lastGas)
	fmt.Fprintf(writer, "Last update\t%s\n", updated)
	fmt.Fprintf(writer, "Recent\t%s\n", formatRecent(rec.Readings.RecentGasValues, 12))
	return writer.Flush()
}

// formatRecent renders up to limit values, newest first.
func formatRecent(values []int, limit int) string {
	if len(values) == 0 {
		return "-"
	}
	shown := values
	if len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = strconv.Itoa(v)
	}
	out := strings.Join(parts, " ")
	if rest := len(values) - len(shown); rest > 0 {
		out += fmt.Sprintf(" … (+%d)", rest)
	}
	return out
}
