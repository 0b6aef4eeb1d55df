// Package backfill re-queues documents whose stored text is nothing but OCR
// banners and runs them through the pipeline again.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// ErrDisabled is returned by Run when the reconciler was built without the enable flag.
var ErrDisabled = errors.New("backfill is disabled")

// Store is the slice of a family's document store the reconciler needs.
type Store interface {
	Family() string
	FindBannerSucceeded(ctx context.Context) ([]*entity.Document, error)
	Save(ctx context.Context, doc *entity.Document) error
}

// Report summarises one reconciliation run.
type Report struct {
	Scanned   int            `json:"scanned"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	PerFamily map[string]int `json:"per_family"`
}

type Reconciler struct {
	enabled   bool
	stores    []Store
	proc      core.DocumentProcessor
	persister *persist.Persister
	logger    *slog.Logger
	now       func() time.Time
}

func NewReconciler(enabled bool, stores []Store, proc core.DocumentProcessor, logger *slog.Logger, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		enabled:   enabled,
		stores:    stores,
		proc:      proc,
		persister: persist.NewPersister(logger, now),
		logger:    logger,
		now:       now,
	}
}

// Run scans every family once. Documents are reset and reprocessed one at a time,
// and each result is persisted before the next document starts. On cancellation the
// report covers what finished so far.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rep := Report{PerFamily: make(map[string]int)}
	if !r.enabled {
		r.logger.Info("backfill disabled, nothing to do")
		return rep, ErrDisabled
	}
	ctx = common.WithTrigger(ctx, "backfill")

	for _, store := range r.stores {
		family := store.Family()
		logger := r.logger.With("family", family)

		candidates, err := store.FindBannerSucceeded(ctx)
		if err != nil {
			return rep, fmt.Errorf("scan %s: %w", family, err)
		}
		rep.Scanned += len(candidates)

		for _, doc := range candidates {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if ocr.IsUseful(doc.Text()) {
				continue
			}
			status, err := r.reprocess(ctx, store, doc)
			if err != nil {
				if common.IsCancellation(err) {
					logger.Info("backfill cancelled", "doc_id", doc.ID)
					return rep, err
				}
				logger.Error("backfill failed for document", "doc_id", doc.ID, "error", err)
				rep.Failed++
				continue
			}
			rep.Processed++
			rep.PerFamily[family]++
			if status == constants.OCRStatusFailed {
				rep.Failed++
			}
		}
		logger.Info("family reconciled", "scanned", len(candidates), "processed", rep.PerFamily[family])
	}

	r.logger.Info("backfill finished",
		"scanned", rep.Scanned,
		"processed", rep.Processed,
		"failed", rep.Failed,
	)
	return rep, nil
}

// reprocess resets doc to PENDING, runs it synchronously and persists the outcome.
func (r *Reconciler) reprocess(ctx context.Context, store Store, doc *entity.Document) (constants.OCRStatus, error) {
	doc.ResetForReprocessing(r.now().UTC())
	if err := store.Save(ctx, doc); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}

	outcome, err := r.process(ctx, doc)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		outcome = persist.Failed(err.Error(), "")
	}
	if err := r.persister.Persist(ctx, store, doc, outcome); err != nil {
		return "", err
	}
	return outcome.Status, nil
}

func (r *Reconciler) process(ctx context.Context, doc *entity.Document) (out persist.Outcome, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return r.proc.Process(ctx, doc)
}
