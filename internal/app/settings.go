package app

import (
	"context"
	"fmt"

	"gas-price-alerts/internal/storage"
)

// SetThreshold stores the alert threshold in gwei.
func (a *App) SetThreshold(ctx context.Context, gwei int) error {
	return a.editSettings(ctx, func(store *storage.Store) (storage.Record, error) {
		return store.SetThreshold(ctx, gwei)
	})
}

// SetNotifications turns alerts on or off.
func (a *App) SetNotifications(ctx context.Context, enabled bool) error {
	return a.editSettings(ctx, func(store *storage.Store) (storage.Record, error) {
		return store.SetNotificationsEnabled(ctx, enabled)
	})
}

func (a *App) editSettings(ctx context.Context, edit func(*storage.Store) (storage.Record, error)) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := edit(store)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	a.Logger.Info().
		Int("threshold", rec.Settings.Threshold).
		Bool("notifications", rec.Settings.NotificationsEnabled).
		Msg("settings updated")

	a.announce(ctx, rec)
	return a.printRecord(rec)
}
