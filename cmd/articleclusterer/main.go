package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ArticleClusterer/internal/app"
	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single processing cycle and exit")
	configPath := flag.String("config", "", "path to the YAML config (overrides ARTICLE_CLUSTERER_CONFIG)")
	flag.Parse()

	os.Exit(run(*configPath, *once))
}

func run(configPath string, once bool) int {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.New("error", "text").Error("load config", "error", err)
		return 1
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("build application", "error", err)
		return 1
	}
	defer application.Close()

	if once {
		report, err := application.RunOnce(ctx)
		if err != nil {
			logger.Error("cycle interrupted", "error", err)
			return 1
		}
		logger.Info("cycle done", "completed", report.Completed, "failed", report.Failed)
		return 0
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		return 1
	}
	logger.Info("application stopped")
	return 0
}
