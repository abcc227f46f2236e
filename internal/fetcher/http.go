package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxFeedBodyBytes = 1 << 20

// HTTPOptions parameterise the JSON gas feed.
type HTTPOptions struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTPFeed fetches `{"average": n, "recent": [...]}` documents over HTTPS.
type HTTPFeed struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTPFeed constructs an HTTP gas feed.
func NewHTTPFeed(opts HTTPOptions, logger zerolog.Logger) *HTTPFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPFeed{
		opts:   opts,
		logger: logger.With().Str("component", "http_feed").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves and decodes the feed document. Unknown fields are ignored.
func (f *HTTPFeed) Fetch(ctx context.Context) (FeedResult, error) {
	endpoint, err := f.endpoint()
	if err != nil {
		return FeedResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FeedResult{}, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "gaswatch/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FeedResult{}, networkError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return FeedResult{}, networkError(fmt.Errorf("read feed body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FeedResult{}, networkError(parseHTTPError(resp.StatusCode, payload))
	}

	result, err := decodeFeed(payload)
	if err != nil {
		return FeedResult{}, err
	}

	f.logger.Debug().Int64("average", result.AverageTenthsGwei).Int("recent", len(result.RecentTenthsGwei)).Msg("feed fetched")
	return result, nil
}

func (f *HTTPFeed) endpoint() (string, error) {
	if f.opts.URL == "" {
		return "", errors.New("feed url not configured")
	}
	u, err := url.Parse(f.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if f.opts.APIKey != "" {
		q := u.Query()
		q.Set("api-key", f.opts.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type feedResponse struct {
	Average *int64  `json:"average"`
	Recent  []int64 `json:"recent"`
}

func decodeFeed(payload []byte) (FeedResult, error) {
	var res feedResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return FeedResult{}, parseError(err)
	}
	if res.Average == nil {
		return FeedResult{}, parseError(errors.New(`missing "average"`))
	}
	if res.Recent == nil {
		return FeedResult{}, parseError(errors.New(`missing "recent"`))
	}
	return FeedResult{AverageTenthsGwei: *res.Average, RecentTenthsGwei: res.Recent}, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed error (%d)", status)
}

var _ GasFeed = (*HTTPFeed)(nil)
