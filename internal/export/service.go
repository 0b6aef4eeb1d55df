package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// Store is what the report reads from each family.
type Store interface {
	Family() string
	CountByStatus(ctx context.Context) (map[constants.OCRStatus]int, error)
	ListByStatus(ctx context.Context, status constants.OCRStatus, limit int) ([]*entity.Document, error)
}

// Service builds XLSX reports of the OCR state of every family.
type Service struct {
	stores []Store
	logger *slog.Logger
	// FailedLimit caps the rows of the "Failed" sheet per family.
	FailedLimit int
}

func NewService(stores []Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stores: stores, logger: logger, FailedLimit: 500}
}

var statusColumns = []constants.OCRStatus{
	constants.OCRStatusPending,
	constants.OCRStatusSucceeded,
	constants.OCRStatusFailed,
	constants.OCRStatusSkipped,
}

// StatusReportXLSX returns a workbook with a "Summary" sheet of counts per family and
// status, and a "Failed" sheet listing failed documents with their reasons.
func (s *Service) StatusReportXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("failed to close workbook", "error", err)
		}
	}()

	const summary = "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	const failed = "Failed"
	if _, err := f.NewSheet(failed); err != nil {
		return nil, err
	}

	header := []any{"Family"}
	for _, st := range statusColumns {
		header = append(header, string(st))
	}
	header = append(header, "Total")
	if err := f.SetSheetRow(summary, "A1", &header); err != nil {
		return nil, err
	}
	failedHeader := []any{"Family", "Document ID", "File Name", "Content Type", "Last Tried At", "Failure Reason"}
	if err := f.SetSheetRow(failed, "A1", &failedHeader); err != nil {
		return nil, err
	}

	summaryRow, failedRow := 2, 2
	for _, store := range s.stores {
		counts, err := store.CountByStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", store.Family(), err)
		}
		row := []any{store.Family()}
		total := 0
		for _, st := range statusColumns {
			row = append(row, counts[st])
			total += counts[st]
		}
		row = append(row, total)
		cell, _ := excelize.CoordinatesToCellName(1, summaryRow)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return nil, err
		}
		summaryRow++

		docs, err := store.ListByStatus(ctx, constants.OCRStatusFailed, s.FailedLimit)
		if err != nil {
			return nil, fmt.Errorf("list failed %s: %w", store.Family(), err)
		}
		for _, d := range docs {
			tried := ""
			if d.LastTriedAt != nil {
				tried = d.LastTriedAt.UTC().Format(time.RFC3339)
			}
			line := []any{store.Family(), d.ID, d.FileName, d.ContentType, tried, d.Reason()}
			cell, _ := excelize.CoordinatesToCellName(1, failedRow)
			if err := f.SetSheetRow(failed, cell, &line); err != nil {
				return nil, err
			}
			failedRow++
		}
	}

	_ = f.SetColWidth(summary, "A", "A", 16)
	_ = f.SetColWidth(summary, "B", "F", 12)
	_ = f.SetColWidth(failed, "A", "A", 14)
	_ = f.SetColWidth(failed, "B", "C", 32)
	_ = f.SetColWidth(failed, "D", "E", 22)
	_ = f.SetColWidth(failed, "F", "F", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("status report written",
		"families", len(s.stores),
		"failed_rows", failedRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
