// Package pipeline assembles the document processor, its stores and its
// storage backends from configuration.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/async"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/backfill"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/convert"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/repository"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/storage"
)

// Pipeline owns the database, the per-family stores and the processor.
type Pipeline struct {
	DB        *repository.DB
	Stores    map[string]repository.DocumentStore
	Processor *core.Processor

	cfg     *common.Config
	logger  *slog.Logger
	closers []func()
}

// Build opens the database (migrating it when configured to), the storage
// backends and the OCR tooling. Call Close when done.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{cfg: cfg, logger: logger}

	db, err := repository.Open(ctx, DBConfig(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	p.DB = db
	p.closers = append(p.closers, func() { repository.Close(db, logger) })

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db, logger); err != nil {
			p.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	p.Stores, err = repository.NewDocumentStores(db, constants.Families, logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	router, closeStorage, err := storage.NewFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	p.closers = append(p.closers, closeStorage)

	p.Processor = NewProcessor(cfg.OCR, router, logger)
	return p, nil
}

// NewRunner builds the OCR escalation runner with the pdfcpu text-layer fast path.
func NewRunner(cfg common.OCRConfig, logger *slog.Logger) *ocr.Runner {
	invoker := ocr.NewExecInvoker(logger)
	return ocr.NewRunner(ocr.Config{
		Binary:      cfg.Binary,
		Language:    cfg.Language,
		ExtraArgs:   cfg.ExtraArgs,
		PassTimeout: cfg.PassTimeout,
	}, invoker, ocr.NewPDFTextLayer(logger), logger)
}

// NewProcessor wires the runner and the office/text combiner behind one processor.
// The soffice converter is only used when a converter binary is configured.
func NewProcessor(cfg common.OCRConfig, opener storage.Opener, logger *slog.Logger) *core.Processor {
	runner := NewRunner(cfg, logger)
	var converter convert.PDFConverter
	if cfg.ConverterBinary != "" {
		converter = convert.NewSofficeConverter(cfg.ConverterBinary, ocr.NewExecInvoker(logger), logger)
	}
	combiner := convert.NewCombiner(convert.NewDirectExtractor(logger), converter, runner, logger)
	return core.NewProcessor(logger, opener, runner, combiner, WorkDirs(cfg))
}

func WorkDirs(cfg common.OCRConfig) ocr.WorkDirs {
	return ocr.WorkDirs{Input: cfg.InputDir(), Output: cfg.OutputDir(), Logs: cfg.LogsDir()}
}

func DBConfig(cfg common.DatabaseConfig) repository.Config {
	return repository.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}
}

// Pollers builds one poller per enabled family.
func (p *Pipeline) Pollers() []*async.Poller {
	var out []*async.Poller
	for _, fc := range p.cfg.EnabledFamilies() {
		store, ok := p.Stores[fc.Name]
		if !ok {
			p.logger.Warn("no store for family, poller not started", "family", fc.Name)
			continue
		}
		out = append(out, async.NewPoller(store, p.Processor, p.logger,
			async.WithInterval(fc.Interval),
			async.WithBatchSize(fc.BatchSize),
			async.WithBackoff(fc.Backoff),
		))
	}
	return out
}

// Reconciler builds the backfill reconciler over every family. enabled overrides
// the configured flag when true.
func (p *Pipeline) Reconciler(enabled bool) *backfill.Reconciler {
	stores := make([]backfill.Store, 0, len(p.Stores))
	for _, f := range constants.Families {
		if s, ok := p.Stores[f]; ok {
			stores = append(stores, s)
		}
	}
	return backfill.NewReconciler(enabled || p.cfg.Backfill.Enabled, stores, p.Processor, p.logger, time.Now)
}

// Close releases everything Build opened, in reverse order.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
