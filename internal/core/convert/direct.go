package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
)

// Extractor pulls text straight out of a source file, without OCR.
type Extractor interface {
	Extract(ctx context.Context, path, contentType string) (string, error)
}

// DirectExtractor reads office documents with docconv, spreadsheets with
// excelize and plain text as is.
type DirectExtractor struct {
	logger *slog.Logger
	// MaxPlainBytes bounds how much of a text/plain file is read.
	MaxPlainBytes int64
}

func NewDirectExtractor(logger *slog.Logger) *DirectExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectExtractor{logger: logger, MaxPlainBytes: 8 << 20}
}

func (e *DirectExtractor) Extract(ctx context.Context, path, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mt := constants.NormalizeMime(contentType)
	switch constants.MapMimeToKind(mt) {
	case constants.KindText:
		return e.plain(path)
	case constants.KindSpreadsheet:
		return e.spreadsheet(path)
	case constants.KindOffice:
		return e.office(path, mt)
	default:
		return "", common.NewAppError(common.CodeUnsupportedContent, mt, common.ErrUnsupported)
	}
}

func (e *DirectExtractor) plain(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, e.MaxPlainBytes))
	if err != nil {
		return "", err
	}
	return ocr.Normalize(strings.ToValidUTF8(string(b), "")), nil
}

func (e *DirectExtractor) office(path, mt string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := docconv.Convert(f, mt, false)
	if err != nil {
		e.logger.Warn("docconv: extraction failed", "content_type", mt, "error", err)
		return "", common.NewAppError(common.CodeConversionFailed, "extract "+mt, err)
	}
	return ocr.Normalize(res.Body), nil
}

// spreadsheet renders every sheet as a heading line followed by its rows, cells tab-joined.
func (e *DirectExtractor) spreadsheet(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", common.NewAppError(common.CodeConversionFailed, "open spreadsheet", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("failed to close spreadsheet", "error", err)
		}
	}()

	var out strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", common.NewAppError(common.CodeConversionFailed, fmt.Sprintf("read sheet %q", sheet), err)
		}
		var body strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(trimCells(row), "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			body.WriteString(line)
			body.WriteByte('\n')
		}
		if body.Len() == 0 {
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(sheet)
		out.WriteByte('\n')
		out.WriteString(body.String())
	}
	return strings.TrimSpace(out.String()), nil
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.Join(strings.Fields(c), " ")
	}
	return out
}
