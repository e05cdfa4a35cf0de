// internal/scaling/calculator.go
package scaling

import (
	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// Params are the capital-scaling knobs from configuration.
type Params struct {
	// SafetyBufferPercent is the fraction of allocated capital actually
	// deployed, reserving headroom for fees and adverse moves.
	SafetyBufferPercent float64
	// MaxScalingFactor caps the follower/trader margin ratio so a small
	// trader followed with large capital is never amplified.
	MaxScalingFactor float64
	// MinPositionValue is the margin floor below which targets are dropped.
	MinPositionValue float64
}

// Skipped records a target dropped below the minimum-value floor.
type Skipped struct {
	Symbol string
	Side   types.Side
	Margin float64
	Reason string
}

// Result is one cycle's scaled targets plus observability data.
type Result struct {
	Targets []types.TargetPosition
	Skipped []Skipped
	// Factor is the clamped margin scaling factor applied this cycle.
	Factor float64
}

// Calculator converts resolved trader positions into follower targets.
type Calculator struct {
	params Params
	logger *zap.Logger
}

// NewCalculator creates a calculator with the given scaling parameters.
func NewCalculator(params Params, logger *zap.Logger) *Calculator {
	return &Calculator{params: params, logger: logger.Named("scaling")}
}

// ComputeTargets scales each resolved position by the ratio of buffered
// allocated capital to the trader-side aggregate margin. Each target's
// margin and size are capped at the trader's own values: the follower never
// holds more than the source, regardless of capital.
func (c *Calculator) ComputeTargets(resolved []types.ResolvedPosition, allocatedCapital float64) Result {
	var aggregateMargin float64
	for i := range resolved {
		aggregateMargin += resolved[i].MarginRequired()
	}

	factor := 0.0
	if aggregateMargin > 0 {
		factor = allocatedCapital * c.params.SafetyBufferPercent / 100 / aggregateMargin
	}
	if factor > c.params.MaxScalingFactor {
		factor = c.params.MaxScalingFactor
	}

	result := Result{Factor: factor}
	for i := range resolved {
		rp := &resolved[i]
		traderMargin := rp.MarginRequired()

		targetMargin := traderMargin * factor
		if targetMargin > traderMargin {
			targetMargin = traderMargin
		}

		if targetMargin < c.params.MinPositionValue {
			result.Skipped = append(result.Skipped, Skipped{
				Symbol: rp.Symbol,
				Side:   rp.Side,
				Margin: targetMargin,
				Reason: "below minimum position value",
			})
			c.logger.Debug("Skipping target below minimum",
				zap.String("symbol", rp.Symbol),
				zap.String("side", string(rp.Side)),
				zap.Float64("target_margin", targetMargin),
				zap.Float64("min_position_value", c.params.MinPositionValue))
			continue
		}

		targetSize := 0.0
		if rp.EntryPrice > 0 {
			targetSize = targetMargin * rp.Leverage / rp.EntryPrice
		}
		if targetSize > rp.Size {
			targetSize = rp.Size
		}

		result.Targets = append(result.Targets, types.TargetPosition{
			Symbol:     rp.Symbol,
			Side:       rp.Side,
			Size:       targetSize,
			EntryPrice: rp.EntryPrice,
			Leverage:   rp.Leverage,
			Margin:     targetMargin,
		})
	}

	c.logger.Debug("Targets computed",
		zap.Int("targets", len(result.Targets)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Float64("scaling_factor", factor),
		zap.Float64("trader_margin", aggregateMargin),
		zap.Float64("allocated_capital", allocatedCapital))

	return result
}
