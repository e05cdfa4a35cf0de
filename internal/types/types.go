// internal/types/types.go
package types

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a derivative position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide maps venue direction strings onto a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "b":
		return SideLong, nil
	case "short", "sell", "a":
		return SideShort, nil
	default:
		return "", fmt.Errorf("unknown side: %q", s)
	}
}

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is one open derivative position on one venue, already normalized
// by the venue adapter. Margin and Size are mutually consistent:
// Margin ≈ Size × EntryPrice / Leverage.
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	Leverage   float64
	Margin     float64
	StopLoss   float64   // 0 = not set
	TakeProfit float64   // 0 = not set
	OpenedAt   time.Time // zero = unknown
}

// NotionalValue returns Size × EntryPrice.
func (p *Position) NotionalValue() float64 {
	return p.Size * p.EntryPrice
}

// MarginRequired returns the reported margin, deriving it from size, entry
// price and leverage when the venue did not supply one.
func (p *Position) MarginRequired() float64 {
	if p.Margin > 0 {
		return p.Margin
	}
	if p.Leverage <= 0 {
		return 0
	}
	return p.Size * p.EntryPrice / p.Leverage
}

// Validate checks the structural invariants of a normalized position.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position symbol cannot be empty")
	}
	if p.Side != SideLong && p.Side != SideShort {
		return fmt.Errorf("position %s has invalid side %q", p.Symbol, p.Side)
	}
	if p.Size <= 0 {
		return fmt.Errorf("position %s has non-positive size %f", p.Symbol, p.Size)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("position %s has non-positive entry price %f", p.Symbol, p.EntryPrice)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("position %s has leverage %f below 1", p.Symbol, p.Leverage)
	}
	if p.Margin < 0 {
		return fmt.Errorf("position %s has negative margin %f", p.Symbol, p.Margin)
	}
	return nil
}

// AccountData is the follower-side balances returned with a position fetch.
type AccountData struct {
	AccountValue float64
	FreeBalance  float64
}

// TraderRecord is one followed trader. AllocationPercent is recomputed by the
// allocation manager whenever the trader set changes; the sum over active
// traders is always 100 (or 0 when none are active).
type TraderRecord struct {
	Address           string
	Platform          string
	AllocationPercent float64
	IsActive          bool
	Positions         []Position

	// Inputs for the performance/sharpe/custom allocation strategies.
	HistoricalPnL float64
	SharpeRatio   float64
	CustomWeight  float64
}

// Attribution is one trader's share of a resolved position, used for
// proportional partial unwinding.
type Attribution struct {
	TraderAddress    string
	ContributionSize float64
	Percentage       float64
}

// ResolvedPosition is the output of conflict resolution: one instruction per
// (symbol, side), with per-trader attribution summing to Size.
type ResolvedPosition struct {
	Symbol      string
	Side        Side
	Size        float64
	EntryPrice  float64
	Leverage    float64
	Attribution []Attribution
}

// MarginRequired derives the trader-side margin of the resolved position.
func (r *ResolvedPosition) MarginRequired() float64 {
	if r.Leverage <= 0 {
		return 0
	}
	return r.Size * r.EntryPrice / r.Leverage
}

// TargetPosition is the scaled follower-side desired position. Derived each
// cycle, never persisted; Size never exceeds the source trader's size.
type TargetPosition struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
	Leverage   float64
	Margin     float64
	StopLoss   float64
	TakeProfit float64
}

// quoteSuffixes are stripped when normalizing symbols so that e.g. BTC,
// BTC-USD, BTCUSDT and BTC-PERP all compare equal across venues.
var quoteSuffixes = []string{"-USDT", "-USDC", "-USD", "-PERP", "USDT", "USDC", "USD", "PERP"}

// NormalizeSymbol upper-cases a symbol and strips a quote-currency suffix.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, "/:"); i > 0 {
		s = s[:i]
	}
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return strings.TrimSuffix(s, "-")
}

// PositionKey is the matching key used by the conflict resolver and the diff
// engine: normalized symbol + direction.
func PositionKey(symbol string, side Side) string {
	return NormalizeSymbol(symbol) + "_" + string(side)
}
