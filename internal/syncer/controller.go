// internal/syncer/controller.go
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/conflict"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/diff"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/history"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/logger"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/metrics"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/roster"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/scaling"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/venue"
)

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config wires the controller's collaborators and knobs.
type Config struct {
	Source          venue.PositionSource
	Roster          *roster.Manager
	Resolver        *conflict.Resolver
	Calculator      *scaling.Calculator
	Engine          *diff.Engine
	History         *history.Store   // optional
	Metrics         *metrics.Metrics // optional
	FollowerAddress string
	PollInterval    time.Duration
	Logger          *zap.Logger
}

// Stats summarizes a controller session.
type Stats struct {
	CyclesRun      uint64
	CyclesSkipped  uint64
	PositionsOpen  uint64
	PositionsClose uint64
	ExecFailures   uint64
	CycleErrors    uint64
}

// Controller runs the periodic sync loop. One controller follows one
// follower account against one venue. Errors inside a cycle are absorbed and
// counted; only Start-time failures surface to the caller.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	state atomic.Int32

	mu            sync.Mutex
	lastTraderPos map[string][]types.Position
	lastTradeTime map[string]time.Time
	rosterVersion uint64
	bootstrapped  bool
	stats         Stats

	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewController validates the wiring and returns an idle controller.
func NewController(cfg Config) (*Controller, error) {
	switch {
	case cfg.Source == nil:
		return nil, fmt.Errorf("position source cannot be nil")
	case cfg.Roster == nil:
		return nil, fmt.Errorf("roster cannot be nil")
	case cfg.Resolver == nil || cfg.Calculator == nil || cfg.Engine == nil:
		return nil, fmt.Errorf("pipeline components cannot be nil")
	case cfg.FollowerAddress == "":
		return nil, fmt.Errorf("follower address cannot be empty")
	case cfg.Logger == nil:
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return &Controller{
		cfg:           cfg,
		logger:        cfg.Logger.Named("syncer"),
		lastTraderPos: make(map[string][]types.Position),
		lastTradeTime: make(map[string]time.Time),
		done:          make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns a copy of the session counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Start probes the venue, runs an immediate first cycle, then polls on the
// configured interval until Stop or context cancellation.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateInitializing)) {
		return fmt.Errorf("controller already started (state %s)", c.State())
	}

	// Connectivity probe: a venue that cannot serve the follower account
	// now will not serve it in the loop either.
	if _, err := c.cfg.Source.FetchPositions(ctx, c.cfg.FollowerAddress); err != nil {
		c.state.Store(int32(StateIdle))
		return fmt.Errorf("initial follower fetch failed: %w", err)
	}

	// Fresh session: the previous run's done channel is already closed.
	c.done = make(chan struct{})
	ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now()
	c.state.Store(int32(StateRunning))
	c.logger.Info("Sync loop started",
		zap.String("follower", c.cfg.FollowerAddress),
		zap.String("venue", c.cfg.Source.Name()),
		zap.Duration("poll_interval", c.cfg.PollInterval))

	go c.run(ctx)
	return nil
}

// Stop ends the loop and logs a session summary. Safe to call once.
func (c *Controller) Stop() {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	c.cancel()
	<-c.done

	stats := c.Stats()
	c.logger.Info("Sync loop stopped",
		zap.Duration("uptime", time.Since(c.startedAt)),
		zap.Uint64("cycles", stats.CyclesRun),
		zap.Uint64("skipped", stats.CyclesSkipped),
		zap.Uint64("opened", stats.PositionsOpen),
		zap.Uint64("closed", stats.PositionsClose),
		zap.Uint64("exec_failures", stats.ExecFailures),
		zap.Uint64("cycle_errors", stats.CycleErrors))

	// Clear the sync state so a restarted session bootstraps from scratch
	// instead of diffing against stale trader snapshots.
	c.mu.Lock()
	c.lastTraderPos = make(map[string][]types.Position)
	c.lastTradeTime = make(map[string]time.Time)
	c.bootstrapped = false
	c.mu.Unlock()

	c.state.Store(int32(StateIdle))
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// runCycle executes one full pipeline pass. Every failure inside is absorbed:
// the loop must survive transient venue trouble.
func (c *Controller) runCycle(ctx context.Context) {
	log, cycleID := logger.WithCycle(c.logger)
	start := time.Now()

	traders := c.cfg.Roster.Active()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveTraders.Set(float64(len(traders)))
	}
	if len(traders) == 0 {
		log.Debug("No active traders, skipping cycle")
		return
	}

	skip, tradeTimes, err := c.shouldSkip(ctx, traders)
	if err != nil {
		c.absorb(log, "trade_time", err)
	} else if skip {
		c.mu.Lock()
		c.stats.CyclesSkipped++
		c.mu.Unlock()
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CyclesSkipped.Inc()
		}
		log.Debug("No new trader fills, skipping cycle")
		return
	}

	if err := c.fetchTraderPositions(ctx, traders); err != nil {
		c.absorb(log, "trader_fetch", err)
	}

	follower, err := c.cfg.Source.FetchPositions(ctx, c.cfg.FollowerAddress)
	if err != nil {
		c.absorb(log, "follower_fetch", err)
		return
	}

	resolved := c.cfg.Resolver.Resolve(traders)
	result := c.cfg.Calculator.ComputeTargets(resolved, follower.Account.AccountValue)

	current := flattenPositions(traders)
	last := c.lastFlattened(traders)

	actions := c.cfg.Engine.Compute(follower.Positions, result.Targets, last, current)

	log.Info("Cycle computed",
		zap.Int("traders", len(traders)),
		zap.Int("resolved", len(resolved)),
		zap.Int("targets", len(result.Targets)),
		zap.Int("to_open", len(actions.ToOpen)),
		zap.Int("to_close", len(actions.ToClose)),
		zap.Float64("scaling_factor", result.Factor))

	if !actions.Empty() {
		c.execute(ctx, log, cycleID, actions)
	}

	c.saveSyncState(traders, tradeTimes)

	c.mu.Lock()
	c.stats.CyclesRun++
	c.mu.Unlock()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CyclesTotal.Inc()
		c.cfg.Metrics.CycleDuration.Observe(time.Since(start).Seconds())
		c.cfg.Metrics.OpenPositions.Set(float64(len(follower.Positions) + len(actions.ToOpen) - len(actions.ToClose)))
	}
}

// shouldSkip reports whether every trader's last-trade timestamp is known
// and unchanged since the last committed baseline, and the roster itself is
// unchanged. A zero timestamp (venue cannot say) always forces a full cycle.
// The fetched times are returned, not stored: the baseline only advances in
// saveSyncState once the cycle completes, so a trade observed by an aborted
// cycle is still seen as new by the next one.
func (c *Controller) shouldSkip(ctx context.Context, traders []*types.TraderRecord) (bool, map[string]time.Time, error) {
	times := make([]time.Time, len(traders))
	g, gctx := errgroup.WithContext(ctx)
	for i, tr := range traders {
		g.Go(func() error {
			t, err := c.cfg.Source.FetchLastTradeTime(gctx, tr.Address)
			if err != nil {
				return fmt.Errorf("trader %s: %w", tr.Address, err)
			}
			times[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, nil, err
	}

	fetched := make(map[string]time.Time, len(traders))

	c.mu.Lock()
	defer c.mu.Unlock()
	allUnchanged := true
	for i, tr := range traders {
		if times[i].IsZero() {
			allUnchanged = false
			continue
		}
		fetched[tr.Address] = times[i]
		prev, known := c.lastTradeTime[tr.Address]
		if !known || times[i].After(prev) {
			allUnchanged = false
		}
	}
	if !c.bootstrapped || c.rosterVersion != c.cfg.Roster.Version() {
		return false, fetched, nil
	}
	return allUnchanged, fetched, nil
}

// fetchTraderPositions refreshes every trader's holdings concurrently. A
// failed trader keeps its previous snapshot; the first error is returned for
// counting after all fetches finish.
func (c *Controller) fetchTraderPositions(ctx context.Context, traders []*types.TraderRecord) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range traders {
		g.Go(func() error {
			snapshot, err := c.cfg.Source.FetchPositions(gctx, tr.Address)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("trader %s: %w", tr.Address, err)
				}
				mu.Unlock()
				return nil // keep the previous snapshot, do not cancel siblings
			}
			_ = c.cfg.Roster.UpdatePositions(tr.Address, snapshot.Positions)
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

// execute applies the diff, closes before opens, so a replace never holds
// both the old and the new position at once.
func (c *Controller) execute(ctx context.Context, log *zap.Logger, cycleID string, actions diff.Actions) {
	for i := range actions.ToClose {
		pos := &actions.ToClose[i]
		res := c.cfg.Source.ClosePosition(ctx, pos)
		c.recordExec(log, cycleID, "close", pos.Symbol, string(pos.Side), pos.Size, pos.EntryPrice, pos.Margin, res)
	}
	for i := range actions.ToOpen {
		target := &actions.ToOpen[i]
		res := c.cfg.Source.OpenPosition(ctx, target)
		c.recordExec(log, cycleID, "open", target.Symbol, string(target.Side), target.Size, target.EntryPrice, target.Margin, res)
	}
}

func (c *Controller) recordExec(log *zap.Logger, cycleID, action, symbol, side string, size, entry, margin float64, res venue.ExecResult) {
	c.mu.Lock()
	switch {
	case !res.Success:
		c.stats.ExecFailures++
	case action == "open":
		c.stats.PositionsOpen++
	default:
		c.stats.PositionsClose++
	}
	c.mu.Unlock()

	if c.cfg.Metrics != nil {
		switch {
		case !res.Success:
			c.cfg.Metrics.ExecFailures.Inc()
		case action == "open":
			c.cfg.Metrics.PositionsOpened.Inc()
		default:
			c.cfg.Metrics.PositionsClosed.Inc()
		}
	}

	if res.Success {
		log.Info("Executed "+action,
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Float64("size", size),
			zap.String("tx_id", res.TxID))
	} else {
		log.Warn("Execution failed",
			zap.String("action", action),
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Float64("size", size),
			zap.String("reason", res.Reason))
	}

	if c.cfg.History != nil {
		c.cfg.History.Append(history.Record{
			CycleID: cycleID, Action: action, Symbol: symbol, Side: side,
			Size: size, EntryPrice: entry, Margin: margin,
			Success: res.Success, TxID: res.TxID, Reason: res.Reason,
		})
	}
}

// saveSyncState snapshots each trader's holdings and last-trade times as the
// next cycle's change-detection baseline and marks bootstrap complete. Only
// completed cycles reach this point; an aborted cycle leaves the baseline
// untouched so the trade that triggered it is not swallowed.
func (c *Controller) saveSyncState(traders []*types.TraderRecord, tradeTimes map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tr := range traders {
		snapshot := make([]types.Position, len(tr.Positions))
		copy(snapshot, tr.Positions)
		c.lastTraderPos[tr.Address] = snapshot
	}
	for addr, t := range tradeTimes {
		c.lastTradeTime[addr] = t
	}
	c.rosterVersion = c.cfg.Roster.Version()
	c.bootstrapped = true
}

// lastFlattened returns the previous cycle's combined trader holdings, or
// nil on the bootstrap cycle so both-present positions are never adjusted on
// first observation.
func (c *Controller) lastFlattened(traders []*types.TraderRecord) []types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bootstrapped {
		return nil
	}
	out := make([]types.Position, 0, 8)
	for _, tr := range traders {
		out = append(out, c.lastTraderPos[tr.Address]...)
	}
	return out
}

func (c *Controller) absorb(log *zap.Logger, stage string, err error) {
	c.mu.Lock()
	c.stats.CycleErrors++
	c.mu.Unlock()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StageErrors.WithLabelValues(stage).Inc()
	}
	log.Warn("Cycle stage error absorbed",
		zap.String("stage", stage),
		zap.Error(err))
}

func flattenPositions(traders []*types.TraderRecord) []types.Position {
	out := make([]types.Position, 0, 8)
	for _, tr := range traders {
		out = append(out, tr.Positions...)
	}
	return out
}
