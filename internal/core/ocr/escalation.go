package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// Config holds OCR tool configuration.
type Config struct {
	Binary    string   // defaults to "ocrmypdf"
	Language  string   // passed as -l when set
	ExtraArgs []string // inserted before the mode flag
	// PassTimeout bounds a single tool invocation; zero means no limit besides ctx.
	PassTimeout time.Duration
}

// WorkDirs are the scratch directories of a run.
type WorkDirs struct {
	Input  string
	Output string
	Logs   string
}

// Request asks for the text of one PDF.
type Request struct {
	SourcePath string
	DocumentID string
	Dirs       WorkDirs
}

// pass is one rung of the escalation ladder.
type pass struct {
	label string
	flag  string
}

var passes = []pass{
	{label: "skip-text", flag: "--skip-text"},
	{label: "force-ocr", flag: "--force-ocr"},
	{label: "redo-ocr", flag: "--redo-ocr"},
}

// Runner extracts text from a PDF, trying the existing text layer first and then
// up to three ocrmypdf passes of increasing force.
type Runner struct {
	cfg      Config
	invoker  Invoker
	fast     FastPath
	logger   *slog.Logger
	now      func() time.Time
	newToken func(time.Time) string
}

func NewRunner(cfg Config, invoker Invoker, fast FastPath, logger *slog.Logger) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "ocrmypdf"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if invoker == nil {
		invoker = NewExecInvoker(logger)
	}
	return &Runner{
		cfg:      cfg,
		invoker:  invoker,
		fast:     fast,
		logger:   logger,
		now:      time.Now,
		newToken: runToken,
	}
}

// runToken is a UTC timestamp plus a random suffix, unique per run.
func runToken(now time.Time) string {
	return now.UTC().Format("20060102T150405.000Z") + "-" + uuid.NewString()[:8]
}

type runPaths struct {
	input   string
	output  string
	sidecar string
	log     string
	latest  string
}

func (r *Runner) pathsFor(req Request, token string) runPaths {
	base := req.DocumentID + "-" + token
	return runPaths{
		input:   filepath.Join(req.Dirs.Input, base+".pdf"),
		output:  filepath.Join(req.Dirs.Output, base+".ocr.pdf"),
		sidecar: filepath.Join(req.Dirs.Output, base+".txt"),
		log:     filepath.Join(req.Dirs.Logs, base+".log"),
		latest:  filepath.Join(req.Dirs.Logs, req.DocumentID+"-latest.log"),
	}
}

// Run executes the escalation for req. The error is non-nil only when ctx was
// cancelled; every other outcome is a Result.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	token := r.newToken(r.now())
	p := r.pathsFor(req, token)
	ctx = common.WithRunID(ctx, token)
	logger := common.LoggerWith(ctx, r.logger)
	if _, docID := common.DocumentFromContext(ctx); docID == "" {
		logger = logger.With("doc_id", req.DocumentID)
	}
	rl := newRunLog(p.log, p.latest, logger, r.now)

	var cleanup []string
	defer func() {
		for _, path := range cleanup {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Warn("failed to remove ocr artifact", "path", path, "error", rmErr)
			}
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("ocr run panicked", "panic", fmt.Sprint(rec))
			rl.note(fmt.Sprintf("panic: %v", rec))
			res, err = failed(CodeUnexpected, fmt.Sprintf("OCR failed: %v, see %s", rec, p.log), p.log), nil
		}
	}()

	unexpected := func(stage string, cause error) (Result, error) {
		logger.Error("ocr run failed", "stage", stage, "error", cause)
		rl.note(fmt.Sprintf("%s: %v", stage, cause))
		return failed(CodeUnexpected, fmt.Sprintf("OCR failed: %v, see %s", cause, p.log), p.log), nil
	}

	for _, dir := range []string{req.Dirs.Input, req.Dirs.Output, req.Dirs.Logs} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return unexpected("prepare work dirs", mkErr)
		}
	}

	work, copied, cpErr := isolateInput(req.SourcePath, req.Dirs.Input, p.input)
	if copied {
		cleanup = append(cleanup, work)
	}
	cleanup = append(cleanup, p.output, p.sidecar)
	if cpErr != nil {
		return unexpected("copy input", cpErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	if isPDF, hdrErr := hasPDFHeader(work); hdrErr != nil {
		return unexpected("read input", hdrErr)
	} else if !isPDF {
		logger.Info("input is not a pdf, ocr not applicable")
		return notApplicable("input is not a PDF"), nil
	}

	if r.fast != nil {
		if text, ok := r.fast.TryExtract(work); ok && IsUseful(text) {
			if cleaned := Clean(text); cleaned != "" {
				rl.note("OCR skipped: existing text layer is usable")
				logger.Info("text layer usable, ocr skipped", "chars", len(cleaned))
				return succeeded(cleaned, p.log), nil
			}
		}
	}

	for _, ps := range passes {
		removeIfExists(p.sidecar, p.output)

		args := r.args(ps.flag, p.sidecar, work, p.output)
		passCtx, cancel := r.passContext(ctx)
		inv, runErr := r.invoker.Run(passCtx, r.cfg.Binary, args, "")
		cancel()
		rl.pass(ps.label, r.cfg.Binary, args, inv, runErr)

		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn("ocr run cancelled", "pass", ps.label)
			return Result{}, ctxErr
		}
		logger.Info("ocr pass finished",
			"pass", ps.label,
			"exit_code", inv.ExitCode,
			"duration_ms", inv.Duration.Milliseconds(),
		)

		sidecar, readErr := os.ReadFile(p.sidecar)
		if readErr != nil {
			if runErr != nil && inv.ExitCode == -1 {
				reason := fmt.Sprintf("OCR tool unavailable: %v, see %s", runErr, p.log)
				if errors.Is(runErr, context.DeadlineExceeded) {
					reason = fmt.Sprintf("OCR pass %s timed out, see %s", ps.label, p.log)
				}
				return failed(CodeToolUnavailable, reason, p.log), nil
			}
			if !errors.Is(readErr, fs.ErrNotExist) {
				return unexpected("read sidecar", readErr)
			}
			return failed(CodeNoSidecar, fmt.Sprintf("no sidecar produced, see %s", p.log), p.log), nil
		}

		text := string(sidecar)
		if IsUseful(text) {
			if cleaned := Clean(text); cleaned != "" {
				return succeeded(cleaned, p.log), nil
			}
		}
		logger.Info("ocr pass produced no usable text", "pass", ps.label)
	}

	return failed(CodeUnusableText, fmt.Sprintf("unusable text, see %s", p.log), p.log), nil
}

func (r *Runner) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.PassTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.PassTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Runner) args(flag, sidecar, in, out string) []string {
	args := make([]string, 0, len(r.cfg.ExtraArgs)+7)
	if r.cfg.Language != "" {
		args = append(args, "-l", r.cfg.Language)
	}
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, flag, "--sidecar", sidecar, in, out)
}

// isolateInput copies src to dst unless src already lives in inputDir.
func isolateInput(src, inputDir, dst string) (work string, copied bool, err error) {
	if sameDir(filepath.Dir(src), inputDir) {
		return src, false, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return dst, false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return dst, false, err
	}
	_, cpErr := io.Copy(out, in)
	clErr := out.Close()
	return dst, true, firstErr(cpErr, clErr)
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func hasPDFHeader(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.Contains(head[:n], []byte("%PDF-")), nil
}

func removeIfExists(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
