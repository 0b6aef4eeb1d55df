package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	id := flag.String("id", "", "document id used to name artifacts (random when empty)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}
	logger := common.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-id ID] <file.pdf>")
		return 2
	}
	src, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		logger.Error("invalid path", "arg", flag.Arg(0), "error", err)
		return 2
	}
	docID := *id
	if docID == "" {
		docID = "runocr-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := pipeline.NewRunner(cfg.OCR, logger)
	start := time.Now()
	res, err := runner.Run(ctx, ocr.Request{SourcePath: src, DocumentID: docID, Dirs: pipeline.WorkDirs(cfg.OCR)})
	dur := time.Since(start)
	if err != nil {
		logger.Error("ocr run aborted", "error", err, "duration_ms", dur.Milliseconds())
		return 1
	}

	logger.Info("ocr run finished",
		"doc_id", docID,
		"result", res.Kind.String(),
		"code", string(res.Code),
		"log_path", res.LogPath,
		"chars", len([]rune(res.Text)),
		"duration_ms", dur.Milliseconds(),
	)
	switch res.Kind {
	case ocr.Success:
		fmt.Println(strings.TrimSpace(res.Text))
	case ocr.Failure:
		fmt.Fprintln(os.Stderr, res.Reason)
		return 1
	default:
		fmt.Fprintln(os.Stderr, "not applicable:", res.Reason)
		return 3
	}
	return 0
}
