// cmd/mirrorbot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/solmirror/mirror-bot/internal/app"
	"github.com/solmirror/mirror-bot/internal/config"
	"github.com/solmirror/mirror-bot/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mirror bot", zap.String("config", *configPath))

	runner := app.NewRunner(cfg, log)
	if err := runner.Run(context.Background()); err != nil {
		log.Error("Bot exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}

	log.Info("Mirror bot stopped")
}
