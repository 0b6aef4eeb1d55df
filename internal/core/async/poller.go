package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// Store is the slice of a family's document store the poller needs.
type Store interface {
	Family() string
	FetchPending(ctx context.Context, limit int) ([]*entity.Document, error)
	Save(ctx context.Context, doc *entity.Document) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Stats is a snapshot of one poller's counters.
type Stats struct {
	Family      string    `json:"family"`
	Running     bool      `json:"running"`
	Batches     int64     `json:"batches"`
	Processed   int64     `json:"processed"`
	Succeeded   int64     `json:"succeeded"`
	Failed      int64     `json:"failed"`
	Skipped     int64     `json:"skipped"`
	StoreErrors int64     `json:"store_errors"`
	LastBatchAt time.Time `json:"last_batch_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Poller drives PENDING documents of one family through the processor.
type Poller struct {
	store     Store
	proc      core.DocumentProcessor
	persister *persist.Persister
	logger    *slog.Logger

	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
	sleep     Sleeper

	mu    sync.Mutex
	stats Stats
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		if s != nil {
			p.sleep = s
		}
	}
}

func NewPoller(store Store, proc core.DocumentProcessor, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		store:     store,
		proc:      proc,
		logger:    logger.With("family", store.Family()),
		interval:  30 * time.Second,
		batchSize: 5,
		backoff:   5 * time.Second,
		now:       time.Now,
		sleep:     SleepContext,
		stats:     Stats{Family: store.Family()},
	}
	for _, o := range opts {
		o(p)
	}
	p.persister = persist.NewPersister(p.logger, p.now)
	return p
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls until ctx is cancelled. It returns nil on shutdown. A full batch is
// followed at once by the next one, an empty batch by the idle interval, and a
// batch with store or processing errors by the backoff.
func (p *Poller) Run(ctx context.Context) error {
	p.setRunning(true)
	defer p.setRunning(false)
	p.logger.Info("poller started", "interval", p.interval.String(), "batch_size", p.batchSize)

	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}
		b, err := p.runBatch(ctx)
		var wait time.Duration
		switch {
		case ctx.Err() != nil:
			continue
		case err != nil:
			p.logger.Error("poll failed, backing off", "error", err, "backoff", p.backoff.String())
			wait = p.backoff
		case b.procErrors > 0:
			p.logger.Warn("documents failed with errors, backing off",
				"errors", b.procErrors,
				"backoff", p.backoff.String(),
			)
			wait = p.backoff
		case b.fetched == 0:
			wait = p.interval
		}
		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				continue
			}
		}
	}
}

// batch summarizes one pass over FetchPending.
type batch struct {
	fetched     int
	storeErrors int
	procErrors  int
}

// RunOnce fetches and processes a single batch and returns how many documents it held.
// The error reports cancellation or a store failure, including documents that could
// not be claimed or saved; processing problems are persisted as FAILED instead.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	b, err := p.runBatch(ctx)
	return b.fetched, err
}

func (p *Poller) runBatch(ctx context.Context) (batch, error) {
	docs, err := p.store.FetchPending(ctx, p.batchSize)
	if err != nil {
		if !common.IsCancellation(err) {
			p.recordStoreError(err)
		}
		return batch{}, err
	}
	b := batch{fetched: len(docs)}
	if len(docs) == 0 {
		return b, nil
	}
	p.logger.Debug("fetched batch", "size", len(docs))
	defer p.recordBatch()

	var firstStoreErr error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return b, err
		}
		res, err := p.handle(ctx, doc)
		if err != nil {
			return b, err
		}
		switch {
		case res.storeErr != nil:
			b.storeErrors++
			if firstStoreErr == nil {
				firstStoreErr = res.storeErr
			}
		case res.procErr:
			b.procErrors++
		}
	}
	if firstStoreErr != nil {
		return b, fmt.Errorf("%d of %d documents not saved: %w", b.storeErrors, len(docs), firstStoreErr)
	}
	return b, nil
}

// handled is what happened to one document of a batch.
type handled struct {
	storeErr error
	procErr  bool
}

// handle claims, processes and persists one document. It only returns cancellation;
// store failures and processing errors are reported through handled.
func (p *Poller) handle(ctx context.Context, doc *entity.Document) (handled, error) {
	logger := p.logger.With("doc_id", doc.ID)

	claimedAt := p.now().UTC()
	doc.LastTriedAt = &claimedAt
	if err := p.store.Save(ctx, doc); err != nil {
		if common.IsCancellation(err) {
			return handled{}, err
		}
		logger.Warn("failed to claim document, skipping", "error", err)
		p.recordStoreError(err)
		return handled{storeErr: err}, nil
	}

	start := time.Now()
	outcome, err := p.process(common.WithTrigger(ctx, "poller"), doc)
	if ctx.Err() != nil {
		logger.Info("processing cancelled, leaving document pending")
		return handled{}, ctx.Err()
	}
	var res handled
	if err != nil {
		logger.Error("processing failed", "error", err)
		outcome = persist.Failed(err.Error(), "")
		res.procErr = true
	}

	if err := p.persister.Persist(ctx, p.store, doc, outcome); err != nil {
		if common.IsCancellation(err) {
			return handled{}, err
		}
		p.recordStoreError(err)
		res.storeErr = err
		return res, nil
	}
	logger.Info("document processed",
		"status", string(outcome.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.recordOutcome(outcome.Status)
	return res, nil
}

// process runs the processor and turns a panic into an error.
func (p *Poller) process(ctx context.Context, doc *entity.Document) (out persist.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panicked", "doc_id", doc.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.proc.Process(ctx, doc)
}

// Stats returns a copy of the poller's counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) Family() string { return p.store.Family() }

func (p *Poller) setRunning(v bool) {
	p.mu.Lock()
	p.stats.Running = v
	p.mu.Unlock()
}

func (p *Poller) recordBatch() {
	p.mu.Lock()
	p.stats.Batches++
	p.stats.LastBatchAt = p.now().UTC()
	p.mu.Unlock()
}

func (p *Poller) recordStoreError(err error) {
	p.mu.Lock()
	p.stats.StoreErrors++
	p.stats.LastError = err.Error()
	p.mu.Unlock()
}

func (p *Poller) recordOutcome(status constants.OCRStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Processed++
	switch status {
	case constants.OCRStatusSucceeded:
		p.stats.Succeeded++
	case constants.OCRStatusFailed:
		p.stats.Failed++
	case constants.OCRStatusSkipped:
		p.stats.Skipped++
	}
}
