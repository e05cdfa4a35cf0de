// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/bot"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/config"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Debug = cfg.DebugLogging
	if cfg.LogFile != "" {
		logCfg.LogFile = cfg.LogFile
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting copy trading bot")

	runner := bot.NewRunner(log)
	if err := runner.Initialize(ctx, *configPath); err != nil {
		log.Fatal("Failed to initialize bot", zap.Error(err))
	}

	if err := runner.Run(ctx); err != nil {
		log.Fatal("Bot execution error", zap.Error(err))
	}
}
