// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/allocation"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/config"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/conflict"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/diff"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/history"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/license"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/metrics"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/roster"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/scaling"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/syncer"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/venue"
)

// Runner assembles the whole pipeline from configuration and drives its
// lifecycle.
type Runner struct {
	logger     *zap.Logger
	cfg        *config.Config
	source     venue.PositionSource
	controller *syncer.Controller
	store      *history.Store
	shutdown   *ShutdownHandler
}

// NewRunner creates an unassembled runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		logger:   logger,
		shutdown: NewShutdownHandler(logger, 15*time.Second),
	}
}

// Initialize loads configuration, validates the license, and wires every
// component. Nothing polls until Run.
func (r *Runner) Initialize(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg

	if cfg.KeygenAccountID != "" {
		validator := license.NewKeygenValidator(
			cfg.KeygenAccountID, cfg.KeygenProductToken, cfg.KeygenProductID, r.logger)
		if err := validator.ValidateLicense(ctx, cfg.License); err != nil {
			return fmt.Errorf("license check: %w", err)
		}
	} else {
		r.logger.Warn("License validation disabled (no keygen account configured)")
	}

	rosterMgr := roster.NewManager(
		allocation.ParseStrategy(cfg.AllocationStrategy), cfg.MaxTraders, r.logger)
	if err := rosterMgr.LoadFile(cfg.TradersFile); err != nil {
		return fmt.Errorf("load traders: %w", err)
	}

	source, err := venue.GetSourceByName(cfg.FollowerPlatform, venue.Options{
		DryRun:     cfg.DryRun,
		FillStream: cfg.UseFillStream,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("create position source: %w", err)
	}
	r.source = source
	r.shutdown.AddFunc("position source", source.Close)

	if err := venue.Probe(ctx, source, cfg.FollowerAddress); err != nil {
		return fmt.Errorf("venue probe: %w", err)
	}

	store, err := history.NewStore(cfg.HistoryDir, r.logger)
	if err != nil {
		return fmt.Errorf("create execution history: %w", err)
	}
	r.store = store
	r.shutdown.AddFunc("execution history", store.Close)

	m := metrics.New()
	m.Serve(ctx, cfg.MetricsAddr, r.logger)

	controller, err := syncer.NewController(syncer.Config{
		Source:   source,
		Roster:   rosterMgr,
		Resolver: conflict.NewResolver(conflict.ParseStrategy(cfg.ConflictStrategy), r.logger),
		Calculator: scaling.NewCalculator(scaling.Params{
			SafetyBufferPercent: cfg.SafetyBufferPercent,
			MaxScalingFactor:    cfg.MaxScalingFactor,
			MinPositionValue:    cfg.MinPositionValue,
		}, r.logger),
		Engine:          diff.NewEngine(cfg.SizeChangeTolerancePercent, r.logger),
		History:         store,
		Metrics:         m,
		FollowerAddress: cfg.FollowerAddress,
		PollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		Logger:          r.logger,
	})
	if err != nil {
		return fmt.Errorf("create sync controller: %w", err)
	}
	r.controller = controller

	r.logger.Info("Runner initialized",
		zap.String("platform", cfg.FollowerPlatform),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Int("traders", rosterMgr.Size()))
	return nil
}

// Run starts the sync loop and blocks until a termination signal, then
// shuts everything down in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	if r.controller == nil {
		return fmt.Errorf("runner not initialized")
	}

	if err := r.controller.Start(ctx); err != nil {
		return fmt.Errorf("start sync loop: %w", err)
	}
	r.shutdown.AddFunc("sync controller", func() error {
		r.controller.Stop()
		return nil
	})

	r.shutdown.HandleShutdown()

	opened, closed, failed := r.store.Summary()
	r.logger.Info("Session summary",
		zap.Uint64("opened", opened),
		zap.Uint64("closed", closed),
		zap.Uint64("failed", failed))
	return nil
}
