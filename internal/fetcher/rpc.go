package fetcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RPCOptions parameterise the on-chain gas feed.
type RPCOptions struct {
	RPCURL        string
	HistoryBlocks int
	Timeout       time.Duration
}

// RPCFeed derives gas readings from an Ethereum JSON-RPC node: the suggested
// gas price is the average and recent block base fees are the history.
type RPCFeed struct {
	opts      RPCOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPCFeed builds a new on-chain gas feed.
func NewRPCFeed(opts RPCOptions, logger zerolog.Logger) *RPCFeed {
	return &RPCFeed{opts: opts, logger: logger.With().Str("component", "rpc_feed").Logger()}
}

// Fetch queries eth_gasPrice and eth_feeHistory and converts wei to tenths of gwei.
func (r *RPCFeed) Fetch(ctx context.Context) (FeedResult, error) {
	if r.opts.RPCURL == "" {
		return FeedResult{}, errors.New("ethereum rpc url not configured")
	}
	if r.opts.HistoryBlocks <= 0 {
		return FeedResult{}, errors.New("history blocks must be greater than zero")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return FeedResult{}, networkError(err)
	}

	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return FeedResult{}, networkError(err)
	}
	if price == nil {
		return FeedResult{}, parseError(errors.New("empty gas price"))
	}

	history, err := client.FeeHistory(ctx, uint64(r.opts.HistoryBlocks), nil, nil)
	if err != nil {
		return FeedResult{}, networkError(err)
	}
	if history == nil || len(history.BaseFee) == 0 {
		return FeedResult{}, parseError(errors.New("empty fee history"))
	}

	baseFees := history.BaseFee
	// The last entry is the projected fee of the next block, not an observation.
	if len(baseFees) > r.opts.HistoryBlocks {
		baseFees = baseFees[:r.opts.HistoryBlocks]
	}

	recent := make([]int64, 0, len(baseFees))
	for i := len(baseFees) - 1; i >= 0; i-- {
		if baseFees[i] == nil {
			return FeedResult{}, parseError(errors.New("nil base fee in history"))
		}
		recent = append(recent, WeiToTenthsGwei(baseFees[i]))
	}

	result := FeedResult{AverageTenthsGwei: WeiToTenthsGwei(price), RecentTenthsGwei: recent}
	r.logger.Debug().Int64("average", result.AverageTenthsGwei).Int("recent", len(recent)).Msg("rpc feed fetched")
	return result, nil
}

// WeiToTenthsGwei converts wei to tenths of gwei, truncating.
func WeiToTenthsGwei(wei *big.Int) int64 {
	return decimal.NewFromBigInt(wei, -8).Truncate(0).IntPart()
}

func (r *RPCFeed) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

// Close releases the RPC connection.
func (r *RPCFeed) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

var _ GasFeed = (*RPCFeed)(nil)
