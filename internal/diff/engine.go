// internal/diff/engine.go
package diff

import (
	"math"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// Actions is the outcome of one diff: positions to open and positions to
// close. The two lists are disjoint by construction; the caller executes
// closes before opens per symbol to avoid transient over-exposure.
type Actions struct {
	ToOpen  []types.TargetPosition
	ToClose []types.Position
}

// Empty reports whether the diff produced no work.
func (a Actions) Empty() bool {
	return len(a.ToOpen) == 0 && len(a.ToClose) == 0
}

// Engine compares desired targets against the follower's actual positions.
// Adjustments are driven only by detected trader action, never by
// follower/target arithmetic drift.
type Engine struct {
	// tolerancePercent is the trader size-change ratio (in percent) below
	// which a both-present pair is left untouched.
	tolerancePercent float64
	logger           *zap.Logger
}

// NewEngine creates a diff engine with the given change tolerance.
func NewEngine(tolerancePercent float64, logger *zap.Logger) *Engine {
	return &Engine{tolerancePercent: tolerancePercent, logger: logger.Named("diff")}
}

// Compute derives open/close actions. lastTrader == nil marks the bootstrap
// cycle: positions present on both sides are never force-adjusted on first
// observation. currentTrader is the trader's full holdings this cycle, used
// to distinguish "trader exited" from "filtered below the minimum floor".
func (e *Engine) Compute(actual []types.Position, targets []types.TargetPosition, lastTrader, currentTrader []types.Position) Actions {
	actualByKey := make(map[string]*types.Position, len(actual))
	for i := range actual {
		actualByKey[types.PositionKey(actual[i].Symbol, actual[i].Side)] = &actual[i]
	}
	targetByKey := make(map[string]*types.TargetPosition, len(targets))
	for i := range targets {
		targetByKey[types.PositionKey(targets[i].Symbol, targets[i].Side)] = &targets[i]
	}
	currentSizes := sizesByKey(currentTrader)
	var lastSizes map[string]float64
	if lastTrader != nil {
		lastSizes = sizesByKey(lastTrader)
	}

	var actions Actions

	// Targets with no matching actual position: open.
	for i := range targets {
		key := types.PositionKey(targets[i].Symbol, targets[i].Side)
		if _, held := actualByKey[key]; !held {
			actions.ToOpen = append(actions.ToOpen, targets[i])
		}
	}

	for i := range actual {
		pos := &actual[i]
		key := types.PositionKey(pos.Symbol, pos.Side)
		target, wanted := targetByKey[key]

		if !wanted {
			if _, traderHolds := currentSizes[key]; traderHolds {
				// Filtered out by the minimum-size floor, not exited; leave
				// it so we do not churn against a position the trader still
				// holds.
				e.logger.Debug("Keeping unmatched position, trader still holds it",
					zap.String("key", key))
				continue
			}
			actions.ToClose = append(actions.ToClose, *pos)
			continue
		}

		// Both present. Bootstrap cycle: never adjust on first observation.
		if lastSizes == nil {
			continue
		}

		lastSize, hadLast := lastSizes[key]
		currentSize, hasCurrent := currentSizes[key]
		if !hadLast || !hasCurrent || lastSize <= 0 {
			// No usable history for this instrument; without evidence of
			// trader action we do not touch the position.
			continue
		}

		changeRatio := math.Abs(currentSize-lastSize) / lastSize * 100
		if changeRatio > e.tolerancePercent {
			// The trader meaningfully resized: replace rather than patch.
			e.logger.Info("Trader size change detected, replacing position",
				zap.String("key", key),
				zap.Float64("last_size", lastSize),
				zap.Float64("current_size", currentSize),
				zap.Float64("change_percent", changeRatio))
			actions.ToClose = append(actions.ToClose, *pos)
			actions.ToOpen = append(actions.ToOpen, *target)
		}
	}

	return actions
}

func sizesByKey(positions []types.Position) map[string]float64 {
	sizes := make(map[string]float64, len(positions))
	for i := range positions {
		sizes[types.PositionKey(positions[i].Symbol, positions[i].Side)] += positions[i].Size
	}
	return sizes
}
