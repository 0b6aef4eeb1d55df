package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/backfill"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	enable := flag.Bool("enable", false, "actually run the backfill (or set OCR_BACKFILL_ENABLED=true)")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}
	logger := common.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}
	defer p.Close()

	rep, err := p.Reconciler(*enable).Run(ctx)
	_ = json.NewEncoder(os.Stdout).Encode(rep)
	switch {
	case errors.Is(err, backfill.ErrDisabled):
		logger.Warn("backfill disabled; pass -enable or set OCR_BACKFILL_ENABLED=true")
		return 3
	case err != nil:
		logger.Error("backfill stopped", "error", err, "processed", rep.Processed)
		return 1
	}
	return 0
}
