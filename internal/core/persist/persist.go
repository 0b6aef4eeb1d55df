package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// Outcome is the final word of the pipeline on one document.
type Outcome struct {
	Status  constants.OCRStatus
	Text    string
	Reason  string
	LogPath string
}

func Succeeded(text, logPath string) Outcome {
	return Outcome{Status: constants.OCRStatusSucceeded, Text: text, LogPath: logPath}
}

func Failed(reason, logPath string) Outcome {
	return Outcome{Status: constants.OCRStatusFailed, Reason: reason, LogPath: logPath}
}

func Skipped(reason string) Outcome {
	return Outcome{Status: constants.OCRStatusSkipped, Reason: reason}
}

// Saver is the part of a document store the persister needs.
type Saver interface {
	Save(ctx context.Context, doc *entity.Document) error
}

// Apply copies o onto doc. Text is kept only for SUCCEEDED and reasons never
// accompany text; both are cut to their column caps.
func Apply(doc *entity.Document, o Outcome, now time.Time) {
	doc.OCRStatus = o.Status
	doc.ExtractedText = nil
	doc.FailureReason = nil

	switch o.Status {
	case constants.OCRStatusSucceeded:
		text := TruncateRunes(o.Text, constants.MaxExtractedTextChars)
		doc.ExtractedText = &text
	default:
		if o.Reason != "" {
			reason := TruncateRunes(o.Reason, constants.MaxFailureReasonChars)
			doc.FailureReason = &reason
		}
	}
	doc.UpdatedAt = now.UTC()
}

// TruncateRunes cuts s to at most max characters.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Persister writes outcomes back through a Saver.
type Persister struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewPersister(logger *slog.Logger, now func() time.Time) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Persister{logger: logger, now: now}
}

// Persist applies o to doc and saves it.
func (p *Persister) Persist(ctx context.Context, store Saver, doc *entity.Document, o Outcome) error {
	Apply(doc, o, p.now())
	if err := store.Save(ctx, doc); err != nil {
		p.logger.Error("failed to persist ocr outcome",
			"family", doc.Family,
			"doc_id", doc.ID,
			"status", o.Status,
			"error", err,
		)
		return err
	}
	p.logger.Info("ocr outcome persisted",
		"family", doc.Family,
		"doc_id", doc.ID,
		"status", o.Status,
		"text_chars", len([]rune(doc.Text())),
		"log_path", o.LogPath,
	)
	return nil
}
