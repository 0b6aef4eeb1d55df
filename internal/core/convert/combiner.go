package convert

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
)

// OCR is the escalation runner as seen by the combiner.
type OCR interface {
	Run(ctx context.Context, req ocr.Request) (ocr.Result, error)
}

// Input describes one non-PDF document on local disk.
type Input struct {
	DocumentID  string
	SourcePath  string
	ContentType string
	// DerivativePath is a PDF rendition fetched from storage; empty when none exists.
	DerivativePath string
	// NoConversion disables the converter, for formats a PDF rendition adds nothing to.
	NoConversion bool
	Dirs         ocr.WorkDirs
}

// Combiner merges the text read directly from a document with the OCR text of
// its PDF derivative.
type Combiner struct {
	direct    Extractor
	converter PDFConverter
	ocr       OCR
	logger    *slog.Logger
}

// NewCombiner builds a combiner. converter may be nil, in which case only stored
// derivatives are OCRed.
func NewCombiner(direct Extractor, converter PDFConverter, runner OCR, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{direct: direct, converter: converter, ocr: runner, logger: logger}
}

// Combine returns the outcome for in. The error is non-nil only on cancellation.
func (c *Combiner) Combine(ctx context.Context, in Input) (persist.Outcome, error) {
	logger := c.logger.With("doc_id", in.DocumentID, "content_type", in.ContentType)

	var problems []string
	direct, err := c.direct.Extract(ctx, in.SourcePath, in.ContentType)
	if err != nil {
		if common.IsCancellation(err) {
			return persist.Outcome{}, err
		}
		logger.Warn("direct extraction failed", "error", err)
		problems = append(problems, "direct extraction: "+err.Error())
	}

	derivative := in.DerivativePath
	if derivative == "" && c.converter != nil && !in.NoConversion {
		pdf, cleanup, convErr := c.converter.ConvertToPDF(ctx, in.SourcePath, in.Dirs.Output)
		switch {
		case convErr == nil:
			defer cleanup()
			derivative = pdf
		case common.IsCancellation(convErr):
			return persist.Outcome{}, convErr
		default:
			logger.Warn("pdf conversion failed", "error", convErr)
			problems = append(problems, "pdf conversion: "+convErr.Error())
		}
	}

	var ocrText, logPath string
	if derivative != "" && c.ocr != nil {
		res, runErr := c.ocr.Run(ctx, ocr.Request{
			SourcePath: derivative,
			DocumentID: in.DocumentID,
			Dirs:       in.Dirs,
		})
		if runErr != nil {
			return persist.Outcome{}, runErr
		}
		logPath = res.LogPath
		switch res.Kind {
		case ocr.Success:
			ocrText = res.Text
		case ocr.Failure:
			problems = append(problems, "derivative ocr: "+res.Reason)
		}
	}

	combined := joinNonBlank(direct, ocrText)
	switch {
	case combined != "":
		return persist.Succeeded(combined, logPath), nil
	case len(problems) > 0:
		return persist.Failed(strings.Join(problems, "; "), logPath), nil
	default:
		return persist.Skipped("no extractable text"), nil
	}
}

// joinNonBlank joins the direct and OCR halves with a blank line, dropping empty
// halves and an OCR half that only repeats the direct text.
func joinNonBlank(direct, ocrText string) string {
	direct = strings.TrimSpace(direct)
	ocrText = strings.TrimSpace(ocrText)
	if ocrText == direct || ocrText == "" {
		return direct
	}
	if direct == "" {
		return ocrText
	}
	return direct + "\n\n" + ocrText
}
