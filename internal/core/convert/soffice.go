package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
)

// PDFConverter renders a source document as PDF.
type PDFConverter interface {
	// ConvertToPDF writes a PDF for src into a fresh directory under outDir and
	// returns its path. cleanup removes everything it created.
	ConvertToPDF(ctx context.Context, src, outDir string) (pdfPath string, cleanup func(), err error)
}

// SofficeConverter shells out to LibreOffice in headless mode.
type SofficeConverter struct {
	Binary  string
	invoker ocr.Invoker
	logger  *slog.Logger
}

func NewSofficeConverter(binary string, invoker ocr.Invoker, logger *slog.Logger) *SofficeConverter {
	if binary == "" {
		binary = "soffice"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if invoker == nil {
		invoker = ocr.NewExecInvoker(logger)
	}
	return &SofficeConverter{Binary: binary, invoker: invoker, logger: logger}
}

func (c *SofficeConverter) ConvertToPDF(ctx context.Context, src, outDir string) (string, func(), error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", nil, err
	}
	tmpDir, err := os.MkdirTemp(outDir, "convert-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	// soffice refuses to run twice against one user profile, so each call gets its own.
	profile := "file://" + filepath.ToSlash(filepath.Join(tmpDir, "profile"))
	args := []string{
		"-env:UserInstallation=" + profile,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", tmpDir,
		src,
	}
	inv, err := c.invoker.Run(ctx, c.Binary, args, "")
	if err != nil {
		cleanup()
		if common.IsCancellation(err) {
			return "", nil, err
		}
		return "", nil, common.NewAppError(common.CodeConversionFailed,
			fmt.Sprintf("%s exited %d: %s", c.Binary, inv.ExitCode, strings.TrimSpace(string(inv.Stderr))), err)
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(tmpDir, base+".pdf")
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		cleanup()
		return "", nil, common.NewAppError(common.CodeConversionFailed, "converter produced no pdf", common.ErrConversion)
	}
	c.logger.Debug("converted to pdf", "src", src, "pdf", out, "duration_ms", inv.Duration.Milliseconds())
	return out, cleanup, nil
}
