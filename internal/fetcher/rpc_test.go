package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeNode answers the two JSON-RPC methods the feed uses.
func fakeNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeiToTenthsGwei(t *testing.T) {
	cases := []struct {
		wei  *big.Int
		want int64
	}{
		{big.NewInt(0), 0},
		{big.NewInt(99_999_999), 0},
		{big.NewInt(100_000_000), 1},
		{big.NewInt(65_000_000_000), 650},
		{big.NewInt(65_049_999_999), 650},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WeiToTenthsGwei(tc.wei), tc.wei.String())
	}
}

func TestRPCFeedFetch(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"eth_gasPrice": "0xf224d4a00", // 65 gwei
		"eth_feeHistory": map[string]any{
			"oldestBlock": "0x10",
			// oldest first; the last entry is the projected next block
			"baseFeePerGas": []string{"0xba43b7400", "0xb2d05e000", "0xaf760f700", "0xa7a358200"},
			"gasUsedRatio":  []float64{0.5, 0.4, 0.6},
		},
	})

	feed := NewRPCFeed(RPCOptions{RPCURL: srv.URL, HistoryBlocks: 3, Timeout: time.Second}, noopLogger())
	defer feed.Close()

	res, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(650), res.AverageTenthsGwei)
	// 50, 48, 47.1 gwei reversed to newest first
	assert.Equal(t, []int64{471, 480, 500}, res.RecentTenthsGwei)
}

func TestRPCFeedNodeErrorIsNetworkError(t *testing.T) {
	srv := fakeNode(t, map[string]any{})

	feed := NewRPCFeed(RPCOptions{RPCURL: srv.URL, HistoryBlocks: 3}, noopLogger())
	defer feed.Close()

	_, err := feed.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrNetwork), "got %v", err)
}

func TestRPCFeedEmptyHistoryIsParseError(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"eth_gasPrice": "0x1",
		"eth_feeHistory": map[string]any{
			"oldestBlock":  "0x10",
			"gasUsedRatio": []float64{},
		},
	})

	feed := NewRPCFeed(RPCOptions{RPCURL: srv.URL, HistoryBlocks: 3}, noopLogger())
	defer feed.Close()

	_, err := feed.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrParse), "got %v", err)
}

func TestRPCFeedMissingConfig(t *testing.T) {
	feed := NewRPCFeed(RPCOptions{}, noopLogger())
	_, err := feed.Fetch(context.Background())
	assert.Error(t, err)

	feed = NewRPCFeed(RPCOptions{RPCURL: "http://localhost"}, noopLogger())
	_, err = feed.Fetch(context.Background())
	assert.Error(t, err)
}
