package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"gas-price-alerts/internal/publish"
)

// Watch prints every record published by other gaswatch processes.
func (a *App) Watch(ctx context.Context) error {
	if !a.Config.Publish.Redis.Enabled {
		return errors.New("publish.redis.enabled is false; nothing to watch")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sub, err := publish.NewSubscriber(ctx, a.Config.Publish.Redis, a.root)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive record: %w", err)
		}
		fmt.Fprintf(a.Out, "--- %s\n", env.PublishedAt.Format("2006-01-02 15:04:05 MST"))
		if err := a.printRecord(env.Record); err != nil {
			return err
		}
	}
}
