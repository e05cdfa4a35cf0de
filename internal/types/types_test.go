package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC":            "BTC",
		"btc":            "BTC",
		"BTC-USD":        "BTC",
		"BTCUSDT":        "BTC",
		"ETH-PERP":       "ETH",
		"SOL/USDT:USDT":  "SOL",
		"DOGEUSDC":       "DOGE",
		" XRP-USDT ":     "XRP",
		"USDT":           "USDT", // bare quote currency is left alone
		"BNB":            "BNB",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in), "input %q", in)
	}
}

func TestPositionKey(t *testing.T) {
	assert.Equal(t, "BTC_long", PositionKey("BTC-USD", SideLong))
	assert.Equal(t, PositionKey("BTCUSDT", SideShort), PositionKey("BTC", SideShort))
	assert.NotEqual(t, PositionKey("BTC", SideLong), PositionKey("BTC", SideShort))
}

func TestParseSide(t *testing.T) {
	long, err := ParseSide("Buy")
	assert.NoError(t, err)
	assert.Equal(t, SideLong, long)

	short, err := ParseSide("short")
	assert.NoError(t, err)
	assert.Equal(t, SideShort, short)
	assert.Equal(t, SideLong, short.Opposite())

	_, err = ParseSide("sideways")
	assert.Error(t, err)
}

func TestPositionValidate(t *testing.T) {
	valid := Position{Symbol: "BTC", Side: SideLong, Size: 0.5, EntryPrice: 50000, Leverage: 10, Margin: 2500}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Size = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Leverage = 0.5
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Side = "flat"
	assert.Error(t, bad.Validate())
}

func TestMarginRequired(t *testing.T) {
	p := Position{Symbol: "ETH", Side: SideShort, Size: 2, EntryPrice: 3000, Leverage: 5}
	// No reported margin: derived from size × entry / leverage.
	assert.InDelta(t, 1200, p.MarginRequired(), 1e-9)

	p.Margin = 1180 // venue-reported value wins
	assert.InDelta(t, 1180, p.MarginRequired(), 1e-9)
}
