// internal/allocation/allocation.go
package allocation

import (
	"strings"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// Strategy selects how follower capital is split across followed traders.
type Strategy string

const (
	StrategyEqual       Strategy = "equal"
	StrategyPerformance Strategy = "performance"
	StrategySharpe      Strategy = "sharpe"
	StrategyCustom      Strategy = "custom"
)

// SumTolerance is the floating-point tolerance on the 100% sum invariant.
const SumTolerance = 1e-6

// ParseStrategy maps a config string onto a Strategy, defaulting to equal.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPerformance:
		return StrategyPerformance
	case StrategySharpe:
		return StrategySharpe
	case StrategyCustom:
		return StrategyCustom
	default:
		return StrategyEqual
	}
}

// weightFunc returns a trader's raw (non-negative) allocation weight.
type weightFunc func(t *types.TraderRecord) float64

var weightFuncs = map[Strategy]weightFunc{
	StrategyEqual:       func(*types.TraderRecord) float64 { return 1 },
	StrategyPerformance: func(t *types.TraderRecord) float64 { return max0(t.HistoricalPnL) },
	StrategySharpe:      func(t *types.TraderRecord) float64 { return max0(t.SharpeRatio) },
	StrategyCustom:      func(t *types.TraderRecord) float64 { return max0(t.CustomWeight) },
}

// ComputeAllocations recomputes AllocationPercent in place for every trader.
// Active traders receive weights per the strategy, normalized to sum to 100;
// paused traders receive 0. Idempotent: re-running always restores the sum
// invariant. Zero traders (or zero active traders) is a no-op beyond zeroing.
func ComputeAllocations(traders []*types.TraderRecord, strategy Strategy) {
	weigh, ok := weightFuncs[strategy]
	if !ok {
		weigh = weightFuncs[StrategyEqual]
	}

	var active []*types.TraderRecord
	for _, t := range traders {
		if t.IsActive {
			active = append(active, t)
		} else {
			t.AllocationPercent = 0
		}
	}
	if len(active) == 0 {
		return
	}

	total := 0.0
	weights := make([]float64, len(active))
	for i, t := range active {
		weights[i] = weigh(t)
		total += weights[i]
	}

	// All weights zero or negative (e.g. every trader at a loss): fall back
	// to an equal split rather than allocating nothing.
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(active))
	}

	for i, t := range active {
		t.AllocationPercent = weights[i] / total * 100
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
