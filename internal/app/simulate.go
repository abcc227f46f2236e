package app

import (
	"context"
	"errors"
	"fmt"

	"gas-price-alerts/internal/fetcher"
	"gas-price-alerts/internal/service"
	"gas-price-alerts/internal/storage"
)

// SimulateAlert 以给定价格和阈值在内存中跑一次完整周期，通过已配置通道发出告警。
func (a *App) SimulateAlert(ctx context.Context, price, threshold int) error {
	if threshold <= price {
		return fmt.Errorf("threshold %d must be above price %d to alert", threshold, price)
	}

	sink := a.newSink()
	if sink.Len() == 0 {
		return errors.New("未配置任何告警通道")
	}

	store := storage.NewMemoryStore(a.root)
	defer store.Close()
	if _, err := store.SetNotificationsEnabled(ctx, true); err != nil {
		return err
	}
	if _, err := store.SetThreshold(ctx, threshold); err != nil {
		return err
	}

	feed := &staticFeed{result: fetcher.FeedResult{AverageTenthsGwei: int64(price) * 10}}
	svc := service.New(feed, store, sink, a.root, service.Options{})
	if result := svc.RunCycle(ctx); result != service.ResultSuccess {
		return fmt.Errorf("simulated cycle ended with %s", result)
	}
	return nil
}

type staticFeed struct {
	result fetcher.FeedResult
}

func (s *staticFeed) Fetch(ctx context.Context) (fetcher.FeedResult, error) {
	return s.result, nil
}

var _ fetcher.GasFeed = (*staticFeed)(nil)
