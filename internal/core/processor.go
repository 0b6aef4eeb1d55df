package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/convert"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/storage"
)

// DocumentProcessor turns one document row into an outcome to persist.
type DocumentProcessor interface {
	Process(ctx context.Context, doc *entity.Document) (persist.Outcome, error)
}

// Combiner is the office/text path as seen by the processor.
type Combiner interface {
	Combine(ctx context.Context, in convert.Input) (persist.Outcome, error)
}

// Processor fetches a document's bytes and routes them by content kind: PDFs go
// through the OCR escalation runner, everything else through the combiner.
type Processor struct {
	logger   *slog.Logger
	storage  storage.Opener
	ocr      convert.OCR
	combiner Combiner
	dirs     ocr.WorkDirs
}

func NewProcessor(
	logger *slog.Logger,
	opener storage.Opener,
	runner convert.OCR,
	combiner Combiner,
	dirs ocr.WorkDirs,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:   logger,
		storage:  opener,
		ocr:      runner,
		combiner: combiner,
		dirs:     dirs,
	}
}

// Process returns the outcome for doc. The error is non-nil only when ctx was
// cancelled; every other problem is reported as a FAILED outcome.
func (p *Processor) Process(ctx context.Context, doc *entity.Document) (persist.Outcome, error) {
	ctx = common.WithDocument(ctx, doc.Family, doc.ID)
	logger := common.LoggerWith(ctx, p.logger).With("content_type", doc.ContentType)

	kind := constants.MapMimeToKind(doc.ContentType)
	if kind == constants.KindUnsupported {
		logger.Info("unsupported content type, skipping")
		return persist.Skipped("unsupported content type " + constants.NormalizeMime(doc.ContentType)), nil
	}

	if err := os.MkdirAll(p.dirs.Input, 0o755); err != nil {
		return persist.Failed("prepare work dir: "+err.Error(), ""), nil
	}

	src, err := p.fetch(ctx, doc.ID, "source", doc.StorageRef, extFor(doc.FileName, kind))
	if err != nil {
		if common.IsCancellation(err) {
			return persist.Outcome{}, err
		}
		logger.Warn("failed to fetch source", "storage_ref", doc.StorageRef, "error", err)
		return persist.Failed("fetch source: "+err.Error(), ""), nil
	}
	defer removeQuietly(src)

	switch kind {
	case constants.KindPDF:
		return p.processPDF(ctx, logger, doc, src)
	default:
		return p.processConvertible(ctx, logger, doc, kind, src)
	}
}

func (p *Processor) processPDF(ctx context.Context, logger *slog.Logger, doc *entity.Document, src string) (persist.Outcome, error) {
	res, err := p.ocr.Run(ctx, ocr.Request{SourcePath: src, DocumentID: doc.ID, Dirs: p.dirs})
	if err != nil {
		return persist.Outcome{}, err
	}
	logger.Debug("ocr finished", "result", res.Kind.String(), "log_path", res.LogPath)
	switch res.Kind {
	case ocr.Success:
		return persist.Succeeded(res.Text, res.LogPath), nil
	case ocr.Failure:
		return persist.Failed(res.Reason, res.LogPath), nil
	default:
		return persist.Skipped(res.Reason), nil
	}
}

func (p *Processor) processConvertible(ctx context.Context, logger *slog.Logger, doc *entity.Document, kind constants.ContentKind, src string) (persist.Outcome, error) {
	in := convert.Input{
		DocumentID:   doc.ID,
		SourcePath:   src,
		ContentType:  doc.ContentType,
		NoConversion: kind == constants.KindText,
		Dirs:         p.dirs,
	}
	if doc.DerivativeRef != nil && *doc.DerivativeRef != "" {
		path, err := p.fetch(ctx, doc.ID, "derivative", *doc.DerivativeRef, ".pdf")
		switch {
		case err == nil:
			defer removeQuietly(path)
			in.DerivativePath = path
		case common.IsCancellation(err):
			return persist.Outcome{}, err
		default:
			// A missing derivative only loses the OCR half; the converter may still produce one.
			logger.Warn("failed to fetch derivative", "derivative_ref", *doc.DerivativeRef, "error", err)
		}
	}
	return p.combiner.Combine(ctx, in)
}

// fetch copies ref into a fresh file in the input work dir and returns its path.
func (p *Processor) fetch(ctx context.Context, docID, role, ref, ext string) (string, error) {
	rc, err := p.storage.OpenRead(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.dirs.Input, fmt.Sprintf("%s-%s-*%s", safeName(docID), role, ext))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, readerWithContext{ctx: ctx, r: rc}); err != nil {
		_ = f.Close()
		removeQuietly(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		removeQuietly(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(b []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(b)
}

func extFor(fileName string, kind constants.ContentKind) string {
	if ext := constants.NormalizeExt(filepath.Ext(fileName)); ext != "" {
		return "." + ext
	}
	switch kind {
	case constants.KindPDF:
		return ".pdf"
	case constants.KindText:
		return ".txt"
	}
	return ""
}

// safeName keeps ids usable as file name prefixes.
func safeName(id string) string {
	b := []byte(id)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Debug("failed to remove temp file", "path", path, "error", err)
	}
}
