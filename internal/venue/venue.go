// internal/venue/venue.go
package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/venue/hyperliquid"
)

// AccountSnapshot is one account's positions and balances at fetch time.
type AccountSnapshot struct {
	Positions []types.Position
	Account   types.AccountData
	FetchedAt time.Time
}

// ExecResult is the outcome of an execution primitive. Failures are values,
// not errors: the sync loop counts them and keeps running.
type ExecResult struct {
	Success bool
	TxID    string
	Reason  string
}

// PositionSource is the single boundary to a venue. Adapters normalize every
// venue-specific shape into the types package; the sync core never sees raw
// fields.
type PositionSource interface {
	// Name returns the venue name.
	Name() string
	// FetchPositions returns the account's open positions and balances.
	// An account with no positions yields an empty slice, not an error.
	FetchPositions(ctx context.Context, address string) (*AccountSnapshot, error)
	// FetchLastTradeTime returns the time of the account's most recent
	// fill. A zero time means unknown and disables the short-circuit check.
	FetchLastTradeTime(ctx context.Context, address string) (time.Time, error)
	// OpenPosition places an order for the target position.
	OpenPosition(ctx context.Context, target *types.TargetPosition) ExecResult
	// ClosePosition unwinds an open position.
	ClosePosition(ctx context.Context, position *types.Position) ExecResult
	// Close releases any connections held by the adapter.
	Close() error
}

// Prober is implemented by sources with a dedicated startup connectivity
// check.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// Probe verifies the source can serve the given account before the sync loop
// starts. Sources without a dedicated probe get a plain fetch.
func Probe(ctx context.Context, src PositionSource, address string) error {
	if p, ok := src.(Prober); ok {
		return p.Probe(ctx, address)
	}
	_, err := src.FetchPositions(ctx, address)
	return err
}

// Options configures source construction.
type Options struct {
	// DryRun routes executions through the paper engine instead of the
	// venue's exchange endpoint.
	DryRun bool
	// FillStream keeps a websocket subscription per queried account so
	// last-trade timestamps come from pushed fills instead of REST polls.
	FillStream bool
}

// GetSourceByName creates an adapter for the named platform.
func GetSourceByName(name string, opts Options, logger *zap.Logger) (PositionSource, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "hyperliquid":
		client := hyperliquid.NewClient(logger)
		src := newHyperliquidSource(client, opts, logger)
		return WithBreaker(src, logger), nil
	default:
		return nil, fmt.Errorf("platform %s is not supported", name)
	}
}

// hyperliquidSource adapts the Hyperliquid client to the PositionSource
// contract, optionally diverting executions to a local paper book.
type hyperliquidSource struct {
	client     *hyperliquid.Client
	dryRun     bool
	fillStream bool
	paper      *paperBook

	// streamCtx outlives any single fetch call: watchers subscribed during
	// one cycle must keep running across cycles until Close.
	streamCtx    context.Context
	streamCancel context.CancelFunc

	watchersMu sync.Mutex
	watchers   map[string]*hyperliquid.FillWatcher
}

func newHyperliquidSource(client *hyperliquid.Client, opts Options, logger *zap.Logger) *hyperliquidSource {
	streamCtx, streamCancel := context.WithCancel(context.Background())
	return &hyperliquidSource{
		client:       client,
		dryRun:       opts.DryRun,
		fillStream:   opts.FillStream,
		paper:        newPaperBook(logger),
		streamCtx:    streamCtx,
		streamCancel: streamCancel,
		watchers:     make(map[string]*hyperliquid.FillWatcher),
	}
}

func (s *hyperliquidSource) Name() string { return "hyperliquid" }

func (s *hyperliquidSource) Probe(ctx context.Context, address string) error {
	return s.client.Probe(ctx, address)
}

func (s *hyperliquidSource) FetchPositions(ctx context.Context, address string) (*AccountSnapshot, error) {
	state, err := s.client.FetchAccountState(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch hyperliquid account state: %w", err)
	}
	snapshot := &AccountSnapshot{
		Positions: state.Positions,
		Account: types.AccountData{
			AccountValue: state.AccountValue,
			FreeBalance:  state.Withdrawable,
		},
		FetchedAt: time.Now(),
	}
	if s.dryRun {
		// Overlay simulated executions so the loop observes its own actions.
		snapshot.Positions = s.paper.overlay(snapshot.Positions)
	}
	return snapshot, nil
}

func (s *hyperliquidSource) FetchLastTradeTime(ctx context.Context, address string) (time.Time, error) {
	if s.fillStream {
		if t := s.watcher(address).LastFillTime(); !t.IsZero() {
			return t, nil
		}
		// Nothing pushed yet; fall back to the REST fill history.
	}
	return s.client.FetchLastFillTime(ctx, address)
}

// watcher returns the account's fill stream, subscribing on first use. The
// watcher runs on the source's own context, not the caller's: the fetch that
// happens to create it is typically short-lived.
func (s *hyperliquidSource) watcher(address string) *hyperliquid.FillWatcher {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()

	if w, ok := s.watchers[address]; ok {
		return w
	}
	w := s.client.NewFillWatcher(address)
	w.Start(s.streamCtx)
	s.watchers[address] = w
	return w
}

func (s *hyperliquidSource) OpenPosition(ctx context.Context, target *types.TargetPosition) ExecResult {
	if s.dryRun {
		return s.paper.open(target)
	}
	txID, err := s.client.PlaceOrder(ctx, hyperliquid.OrderRequest{
		Symbol:   target.Symbol,
		IsBuy:    target.Side == types.SideLong,
		Size:     target.Size,
		Leverage: target.Leverage,
	})
	if err != nil {
		return ExecResult{Success: false, Reason: err.Error()}
	}
	return ExecResult{Success: true, TxID: txID}
}

func (s *hyperliquidSource) ClosePosition(ctx context.Context, position *types.Position) ExecResult {
	if s.dryRun {
		return s.paper.close(position)
	}
	txID, err := s.client.PlaceOrder(ctx, hyperliquid.OrderRequest{
		Symbol:     position.Symbol,
		IsBuy:      position.Side == types.SideShort, // closing a short buys back
		Size:       position.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return ExecResult{Success: false, Reason: err.Error()}
	}
	return ExecResult{Success: true, TxID: txID}
}

func (s *hyperliquidSource) Close() error {
	s.streamCancel()

	s.watchersMu.Lock()
	watchers := make([]*hyperliquid.FillWatcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[string]*hyperliquid.FillWatcher)
	s.watchersMu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
	return s.client.Close()
}
