// internal/venue/breaker.go
package venue

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// breakerSource wraps the fetch path of a PositionSource with a circuit
// breaker. Executions are not wrapped: a half-placed order must surface its
// real result, never a fast-fail.
type breakerSource struct {
	inner   PositionSource
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// WithBreaker wraps src so repeated fetch failures trip an open circuit and
// fetches fast-fail until the venue recovers. Trips on 3 consecutive failures
// or a failure ratio above 5% once 20 requests are observed.
func WithBreaker(src PositionSource, logger *zap.Logger) PositionSource {
	log := logger.Named("breaker")
	settings := gobreaker.Settings{
		Name:        src.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests >= 20 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio > 0.05
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change",
				zap.String("venue", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &breakerSource{
		inner:   src,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

func (b *breakerSource) Name() string { return b.inner.Name() }

// Probe bypasses the breaker: startup probes carry their own retry policy
// and must not pre-trip the circuit.
func (b *breakerSource) Probe(ctx context.Context, address string) error {
	return Probe(ctx, b.inner, address)
}

func (b *breakerSource) FetchPositions(ctx context.Context, address string) (*AccountSnapshot, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.FetchPositions(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	return result.(*AccountSnapshot), nil
}

func (b *breakerSource) FetchLastTradeTime(ctx context.Context, address string) (time.Time, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.FetchLastTradeTime(ctx, address)
	})
	if err != nil {
		return time.Time{}, err
	}
	return result.(time.Time), nil
}

func (b *breakerSource) OpenPosition(ctx context.Context, target *types.TargetPosition) ExecResult {
	return b.inner.OpenPosition(ctx, target)
}

func (b *breakerSource) ClosePosition(ctx context.Context, position *types.Position) ExecResult {
	return b.inner.ClosePosition(ctx, position)
}

func (b *breakerSource) Close() error { return b.inner.Close() }
