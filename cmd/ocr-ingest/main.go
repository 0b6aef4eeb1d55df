package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/ingest"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	family := flag.String("family", "", "document family to register into (docrepo, project, attachment)")
	skipHidden := flag.Bool("skip-hidden", true, "skip dot files and dot directories")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}
	logger := common.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	dir := cfg.Storage.LocalRoot
	if flag.NArg() == 1 {
		dir = flag.Arg(0)
	}
	if *family == "" || flag.NArg() > 1 {
		logger.Error("usage", "cmd", "ocr-ingest -family FAMILY [dir under STORAGE_LOCAL_ROOT]")
		return 2
	}
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

	store, ok := p.Stores[*family]
	if !ok {
		logger.Error("unknown family", "family", *family)
		return 2
	}
	results, stats, err := ingest.NewRegistrar(store, cfg.Storage.LocalRoot, logger).RegisterDirectory(ctx, dir, *skipHidden)
	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		_ = enc.Encode(r)
	}
	_ = enc.Encode(stats)
	if err != nil {
		logger.Error("registration stopped", "error", err)
		return 1
	}
	if stats.Failed > 0 {
		return 1
	}
	return 0
}
