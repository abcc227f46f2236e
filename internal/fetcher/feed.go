package fetcher

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNetwork classifies transport failures: timeouts, DNS, refused connections, non-2xx.
	ErrNetwork = errors.New("feed: network error")
	// ErrParse classifies responses that do not match the expected shape.
	ErrParse = errors.New("feed: parse error")
)

// FeedResult is one gas reading in tenths of gwei. Recent is newest first.
type FeedResult struct {
	AverageTenthsGwei int64
	RecentTenthsGwei  []int64
}

// GasFeed fetches the current gas estimate and its recent history.
type GasFeed interface {
	Fetch(ctx context.Context) (FeedResult, error)
}

func networkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func parseError(err error) error {
	return fmt.Errorf("%w: %w", ErrParse, err)
}
