// internal/venue/venue_test.go
package venue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/venue/hyperliquid"
)

func TestGetSourceByName(t *testing.T) {
	logger := zaptest.NewLogger(t)

	src, err := GetSourceByName("Hyperliquid", Options{DryRun: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, "hyperliquid", src.Name())

	_, err = GetSourceByName("binance", Options{}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	_, err = GetSourceByName("hyperliquid", Options{}, nil)
	require.Error(t, err)
}

func TestPaperBookOpenCloseOverlay(t *testing.T) {
	book := newPaperBook(zaptest.NewLogger(t))

	target := &types.TargetPosition{
		Symbol: "BTC", Side: types.SideLong, Size: 0.1,
		EntryPrice: 60000, Leverage: 10, Margin: 600,
	}
	res := book.open(target)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.TxID)

	fetched := []types.Position{
		{Symbol: "ETH", Side: types.SideShort, Size: 1, EntryPrice: 3000, Leverage: 5, Margin: 600},
	}
	merged := book.overlay(fetched)
	require.Len(t, merged, 2)

	byKey := make(map[string]types.Position)
	for _, p := range merged {
		byKey[types.PositionKey(p.Symbol, p.Side)] = p
	}
	assert.Contains(t, byKey, "BTC_long")
	assert.Contains(t, byKey, "ETH_short")

	res = book.close(&types.Position{Symbol: "BTC", Side: types.SideLong, Size: 0.1})
	require.True(t, res.Success)
	assert.Len(t, book.overlay(fetched), 1)
}

func TestPaperBookOverlayPrefersSimulated(t *testing.T) {
	book := newPaperBook(zaptest.NewLogger(t))
	book.open(&types.TargetPosition{Symbol: "BTC", Side: types.SideLong, Size: 0.2, EntryPrice: 61000, Leverage: 10, Margin: 1220})

	fetched := []types.Position{
		{Symbol: "BTC", Side: types.SideLong, Size: 0.1, EntryPrice: 60000, Leverage: 10, Margin: 600},
	}
	merged := book.overlay(fetched)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.2, merged[0].Size, 1e-9, "simulated state wins on key collision")
}

func TestPaperBookNilInputs(t *testing.T) {
	book := newPaperBook(zaptest.NewLogger(t))
	assert.False(t, book.open(nil).Success)
	assert.False(t, book.close(nil).Success)
}

func TestFillWatcherOutlivesCreatingCall(t *testing.T) {
	const fillMillis = int64(1700000300000)

	// REST endpoint: no fills, so only the stream can produce a timestamp.
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer rest.Close()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Swallow the subscribe request, then push one fill.
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(map[string]any{
			"channel": "user",
			"data": map[string]any{
				"fills": []map[string]any{{"coin": "BTC", "time": fillMillis}},
			},
		}))

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ws.Close()

	wsURL := "ws" + strings.TrimPrefix(ws.URL, "http")
	client := hyperliquid.NewClientWithURL(rest.URL, wsURL, zaptest.NewLogger(t))
	src := newHyperliquidSource(client, Options{FillStream: true}, zaptest.NewLogger(t))
	defer src.Close()

	// The call that subscribes the watcher uses an already-dead context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = src.FetchLastTradeTime(cancelled, "0xabc")

	// The watcher keeps running regardless and eventually serves the
	// pushed fill time to later calls.
	require.Eventually(t, func() bool {
		got, err := src.FetchLastTradeTime(context.Background(), "0xabc")
		return err == nil && got.Equal(time.UnixMilli(fillMillis))
	}, 5*time.Second, 20*time.Millisecond)
}

// flakySource fails fetches until told otherwise.
type flakySource struct {
	failing bool
	calls   int
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) FetchPositions(ctx context.Context, address string) (*AccountSnapshot, error) {
	f.calls++
	if f.failing {
		return nil, errors.New("venue down")
	}
	return &AccountSnapshot{FetchedAt: time.Now()}, nil
}

func (f *flakySource) FetchLastTradeTime(ctx context.Context, address string) (time.Time, error) {
	if f.failing {
		return time.Time{}, errors.New("venue down")
	}
	return time.Now(), nil
}

func (f *flakySource) OpenPosition(ctx context.Context, target *types.TargetPosition) ExecResult {
	return ExecResult{Success: true, TxID: "tx"}
}

func (f *flakySource) ClosePosition(ctx context.Context, position *types.Position) ExecResult {
	return ExecResult{Success: true, TxID: "tx"}
}

func (f *flakySource) Close() error { return nil }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &flakySource{failing: true}
	src := WithBreaker(inner, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := src.FetchPositions(ctx, "0xabc")
		require.Error(t, err)
	}
	callsBefore := inner.calls

	// Open circuit: the inner source must not be hit again.
	_, err := src.FetchPositions(ctx, "0xabc")
	require.Error(t, err)
	assert.Equal(t, callsBefore, inner.calls)
}

func TestBreakerDoesNotWrapExecutions(t *testing.T) {
	inner := &flakySource{failing: true}
	src := WithBreaker(inner, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = src.FetchPositions(ctx, "0xabc")
	}

	// Even with the fetch circuit open, executions pass straight through.
	res := src.OpenPosition(ctx, &types.TargetPosition{Symbol: "BTC", Side: types.SideLong})
	assert.True(t, res.Success)
	res = src.ClosePosition(ctx, &types.Position{Symbol: "BTC", Side: types.SideLong})
	assert.True(t, res.Success)
}
