// internal/conflict/resolver.go
package conflict

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// Strategy decides how same-instrument, same-direction positions from
// multiple traders are merged into one instruction.
type Strategy string

const (
	StrategyCombine Strategy = "combine"
	StrategyLargest Strategy = "largest"
	StrategyFirst   Strategy = "first"
)

// ParseStrategy maps a config string onto a Strategy. Unrecognized values
// fall back to combine.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyLargest:
		return StrategyLargest
	case StrategyFirst:
		return StrategyFirst
	default:
		return StrategyCombine
	}
}

// contribution is one trader's position inside a conflict group.
type contribution struct {
	trader   *types.TraderRecord
	position types.Position
}

type resolveFunc func(group []contribution, logger *zap.Logger) types.ResolvedPosition

var resolveFuncs = map[Strategy]resolveFunc{
	StrategyCombine: resolveCombine,
	StrategyLargest: resolveLargest,
	StrategyFirst:   resolveFirst,
}

// Resolver merges per-trader positions into resolved instructions.
type Resolver struct {
	strategy Strategy
	logger   *zap.Logger
}

// NewResolver creates a resolver for the given strategy.
func NewResolver(strategy Strategy, logger *zap.Logger) *Resolver {
	if _, ok := resolveFuncs[strategy]; !ok {
		logger.Warn("Unknown conflict strategy, defaulting to combine",
			zap.String("strategy", string(strategy)))
		strategy = StrategyCombine
	}
	return &Resolver{strategy: strategy, logger: logger.Named("conflict")}
}

// Resolve groups every active trader's positions by normalized symbol and
// side, passes singleton groups through unchanged (100% attribution), and
// applies the configured strategy to conflicts. A long and a short on the
// same symbol never form a group. Output order follows first appearance in
// the input, keeping cycles deterministic.
func (r *Resolver) Resolve(traders []*types.TraderRecord) []types.ResolvedPosition {
	groups := make(map[string][]contribution)
	var order []string

	for _, trader := range traders {
		if !trader.IsActive {
			continue
		}
		for _, pos := range trader.Positions {
			key := types.PositionKey(pos.Symbol, pos.Side)
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], contribution{trader: trader, position: pos})
		}
	}

	resolve := resolveFuncs[r.strategy]
	resolved := make([]types.ResolvedPosition, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			resolved = append(resolved, passThrough(group[0]))
			continue
		}
		r.logger.Debug("Resolving position conflict",
			zap.String("key", key),
			zap.Int("contributors", len(group)),
			zap.String("strategy", string(r.strategy)))
		resolved = append(resolved, resolve(group, r.logger))
	}
	return resolved
}

// passThrough promotes a sole contributor's position unchanged.
func passThrough(c contribution) types.ResolvedPosition {
	return types.ResolvedPosition{
		Symbol:     types.NormalizeSymbol(c.position.Symbol),
		Side:       c.position.Side,
		Size:       c.position.Size,
		EntryPrice: c.position.EntryPrice,
		Leverage:   c.position.Leverage,
		Attribution: []types.Attribution{{
			TraderAddress:    c.trader.Address,
			ContributionSize: c.position.Size,
			Percentage:       100,
		}},
	}
}

// resolveCombine sums the allocation-weighted sizes of every contributor.
// Entry price and leverage are taken from the first contributor; that is a
// policy choice, not a weighted average.
func resolveCombine(group []contribution, _ *zap.Logger) types.ResolvedPosition {
	first := group[0]
	out := types.ResolvedPosition{
		Symbol:     types.NormalizeSymbol(first.position.Symbol),
		Side:       first.position.Side,
		EntryPrice: first.position.EntryPrice,
		Leverage:   first.position.Leverage,
	}

	for _, c := range group {
		scaled := c.position.Size * c.trader.AllocationPercent / 100
		out.Size += scaled
		out.Attribution = append(out.Attribution, types.Attribution{
			TraderAddress:    c.trader.Address,
			ContributionSize: scaled,
		})
	}

	if out.Size > 0 {
		for i := range out.Attribution {
			out.Attribution[i].Percentage = out.Attribution[i].ContributionSize / out.Size * 100
		}
	}
	return out
}

// resolveLargest keeps the contributor with the greatest allocation-weighted
// notional and drops the rest.
func resolveLargest(group []contribution, logger *zap.Logger) types.ResolvedPosition {
	best := 0
	bestScore := -1.0
	for i, c := range group {
		score := c.position.NotionalValue() * c.trader.AllocationPercent
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	for i, c := range group {
		if i != best {
			logger.Info("Dropping conflicting position (largest wins)",
				zap.String("symbol", c.position.Symbol),
				zap.String("trader", c.trader.Address),
				zap.Float64("notional", c.position.NotionalValue()))
		}
	}
	return passThrough(group[best])
}

// resolveFirst keeps the contributor whose position opened earliest.
// Unknown open times sort last; ties keep configuration order.
func resolveFirst(group []contribution, logger *zap.Logger) types.ResolvedPosition {
	best := 0
	for i := 1; i < len(group); i++ {
		if opensBefore(group[i].position.OpenedAt, group[best].position.OpenedAt) {
			best = i
		}
	}
	for i, c := range group {
		if i != best {
			logger.Info("Dropping conflicting position (first wins)",
				zap.String("symbol", c.position.Symbol),
				zap.String("trader", c.trader.Address),
				zap.Time("opened_at", c.position.OpenedAt))
		}
	}
	return passThrough(group[best])
}

func opensBefore(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}
