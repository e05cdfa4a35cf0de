// internal/venue/paper.go
package venue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// paperBook simulates executions locally for dry-run mode. Opens and closes
// mutate an in-memory position set which is overlaid onto fetched snapshots,
// so the sync loop converges exactly as it would against the live venue.
type paperBook struct {
	mu        sync.Mutex
	positions map[string]types.Position
	logger    *zap.Logger
}

func newPaperBook(logger *zap.Logger) *paperBook {
	return &paperBook{
		positions: make(map[string]types.Position),
		logger:    logger.Named("paper"),
	}
}

func (b *paperBook) open(target *types.TargetPosition) ExecResult {
	if target == nil {
		return ExecResult{Success: false, Reason: "nil target"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := types.Position{
		Symbol:     target.Symbol,
		Side:       target.Side,
		Size:       target.Size,
		EntryPrice: target.EntryPrice,
		Leverage:   target.Leverage,
		Margin:     target.Margin,
		OpenedAt:   time.Now(),
	}
	b.positions[types.PositionKey(pos.Symbol, pos.Side)] = pos

	txID := "paper-" + uuid.New().String()[:8]
	b.logger.Info("Simulated open",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.String("tx_id", txID))
	return ExecResult{Success: true, TxID: txID}
}

func (b *paperBook) close(position *types.Position) ExecResult {
	if position == nil {
		return ExecResult{Success: false, Reason: "nil position"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := types.PositionKey(position.Symbol, position.Side)
	delete(b.positions, key)

	txID := "paper-" + uuid.New().String()[:8]
	b.logger.Info("Simulated close",
		zap.String("symbol", position.Symbol),
		zap.String("side", string(position.Side)),
		zap.Float64("size", position.Size),
		zap.String("tx_id", txID))
	return ExecResult{Success: true, TxID: txID}
}

// overlay merges simulated positions over the fetched ones. Simulated entries
// win on key collision; the result order is fetched-first then simulated.
func (b *paperBook) overlay(fetched []types.Position) []types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.positions) == 0 {
		return fetched
	}

	seen := make(map[string]bool, len(b.positions))
	out := make([]types.Position, 0, len(fetched)+len(b.positions))
	for _, p := range fetched {
		key := types.PositionKey(p.Symbol, p.Side)
		if sim, ok := b.positions[key]; ok {
			out = append(out, sim)
			seen[key] = true
			continue
		}
		out = append(out, p)
	}
	for key, sim := range b.positions {
		if !seen[key] {
			out = append(out, sim)
		}
	}
	return out
}

func (b *paperBook) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("paperBook(%d positions)", len(b.positions))
}
