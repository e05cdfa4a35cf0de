package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

func pos(symbol string, size float64) types.Position {
	return types.Position{Symbol: symbol, Side: types.SideLong, Size: size, EntryPrice: 100, Leverage: 10}
}

func target(symbol string, size float64) types.TargetPosition {
	return types.TargetPosition{Symbol: symbol, Side: types.SideLong, Size: size, EntryPrice: 100, Leverage: 10, Margin: size * 10}
}

func positions(symbols ...string) []types.Position {
	out := make([]types.Position, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, pos(s, 1))
	}
	return out
}

func targets(symbols ...string) []types.TargetPosition {
	out := make([]types.TargetPosition, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, target(s, 0.1))
	}
	return out
}

func openSymbols(a Actions) []string {
	var out []string
	for _, t := range a.ToOpen {
		out = append(out, t.Symbol)
	}
	return out
}

func closeSymbols(a Actions) []string {
	var out []string
	for _, p := range a.ToClose {
		out = append(out, p.Symbol)
	}
	return out
}

// Trader holds six instruments, follower four: the two missing ones open,
// nothing closes.
func TestMissingPositionsOpen(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	trader := positions("BTC", "ETH", "SOL", "BNB", "DOGE", "XRP")
	actual := positions("BTC", "ETH", "SOL", "XRP")

	actions := e.Compute(actual, targets("BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"), trader, trader)

	assert.ElementsMatch(t, []string{"BNB", "DOGE"}, openSymbols(actions))
	assert.Empty(t, actions.ToClose)
}

// Trader closed BTC: only BTC closes; the still-missing BNB/DOGE open.
func TestTraderExitCloses(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	last := positions("BTC", "ETH", "SOL", "BNB", "DOGE", "XRP")
	current := positions("ETH", "SOL", "BNB", "DOGE", "XRP")
	actual := positions("BTC", "ETH", "SOL", "XRP")

	actions := e.Compute(actual, targets("ETH", "SOL", "BNB", "DOGE", "XRP"), last, current)

	assert.Equal(t, []string{"BTC"}, closeSymbols(actions))
	assert.ElementsMatch(t, []string{"BNB", "DOGE"}, openSymbols(actions))
}

// Trader doubles BTC (100% > 20% tolerance): full replace, close + open.
func TestLargeSizeChangeReplaces(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	last := []types.Position{pos("BTC", 1)}
	current := []types.Position{pos("BTC", 2)}
	actual := []types.Position{pos("BTC", 0.1)}

	actions := e.Compute(actual, []types.TargetPosition{target("BTC", 0.2)}, last, current)

	require.Equal(t, []string{"BTC"}, closeSymbols(actions))
	require.Equal(t, []string{"BTC"}, openSymbols(actions))
	assert.Equal(t, 0.2, actions.ToOpen[0].Size, "open uses the new target size")
}

// Trader shrinks BTC 10% (below 20% tolerance): no action.
func TestSmallSizeChangeTolerated(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	last := []types.Position{pos("BTC", 1)}
	current := []types.Position{pos("BTC", 0.9)}
	actual := []types.Position{pos("BTC", 0.1)}

	actions := e.Compute(actual, []types.TargetPosition{target("BTC", 0.09)}, last, current)
	assert.True(t, actions.Empty())
}

// First cycle with trader history: both-present pairs are never adjusted,
// whatever the size mismatch.
func TestBootstrapNeverAdjusts(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	current := []types.Position{pos("BTC", 5)}
	actual := []types.Position{pos("BTC", 0.001)}

	actions := e.Compute(actual, []types.TargetPosition{target("BTC", 0.5)}, nil, current)
	assert.True(t, actions.Empty())
}

// A position filtered below the minimum floor is not closed while the trader
// still holds the instrument.
func TestFloorFilteredPositionKept(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	trader := positions("BTC", "DOGE")
	actual := positions("BTC", "DOGE")
	// DOGE target dropped by the min-value floor upstream.
	actions := e.Compute(actual, targets("BTC"), trader, trader)

	assert.True(t, actions.Empty(), "DOGE must not close while the trader holds it")
}

// Rounding drift between target and actual sizes, trader unchanged: no churn.
func TestRoundingDriftIgnored(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	trader := []types.Position{pos("BTC", 1)}
	actual := []types.Position{pos("BTC", 0.100001)}

	actions := e.Compute(actual, []types.TargetPosition{target("BTC", 0.1)}, trader, trader)
	assert.True(t, actions.Empty())
}

func TestDiffIdempotence(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	trader := positions("BTC", "ETH")
	actual := positions("BTC", "ETH")
	tgts := targets("BTC", "ETH")

	first := e.Compute(actual, tgts, trader, trader)
	second := e.Compute(actual, tgts, trader, trader)

	assert.True(t, first.Empty())
	assert.True(t, second.Empty())
}

// Long and short on the same symbol are independent.
func TestSidesMatchedIndependently(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	short := types.Position{Symbol: "BTC", Side: types.SideShort, Size: 1, EntryPrice: 100, Leverage: 10}
	trader := []types.Position{short}
	actual := []types.Position{pos("BTC", 0.1)} // stale long, trader flipped short

	shortTarget := types.TargetPosition{Symbol: "BTC", Side: types.SideShort, Size: 0.1, EntryPrice: 100, Leverage: 10}
	actions := e.Compute(actual, []types.TargetPosition{shortTarget}, trader, trader)

	assert.Equal(t, []string{"BTC"}, closeSymbols(actions), "stale long closes")
	require.Len(t, actions.ToOpen, 1)
	assert.Equal(t, types.SideShort, actions.ToOpen[0].Side)
}

// Quote-suffix differences between venues must not defeat matching.
func TestSymbolNormalizationInMatching(t *testing.T) {
	e := NewEngine(20, zaptest.NewLogger(t))

	trader := []types.Position{pos("BTCUSDT", 1)}
	actual := []types.Position{pos("BTC-USD", 0.1)}

	actions := e.Compute(actual, []types.TargetPosition{target("BTC", 0.1)}, trader, trader)
	assert.True(t, actions.Empty())
}
