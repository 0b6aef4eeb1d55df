package ocr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// Invocation is what an external command left behind.
type Invocation struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Invoker lets us stub external commands in tests.
type Invoker interface {
	// Run blocks until the command exits. A non-zero exit is reported through
	// ExitCode together with the *exec.ExitError; a command that could not start
	// has ExitCode -1. Cancellation of ctx kills the process and returns ctx.Err().
	Run(ctx context.Context, name string, args []string, dir string) (Invocation, error)
}

// ExecInvoker runs commands with os/exec.
type ExecInvoker struct {
	Logger *slog.Logger
	// WaitDelay bounds how long Run waits for output pipes after the process is killed.
	WaitDelay time.Duration
}

func NewExecInvoker(logger *slog.Logger) *ExecInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecInvoker{Logger: logger, WaitDelay: 5 * time.Second}
}

func (r *ExecInvoker) Run(ctx context.Context, name string, args []string, dir string) (Invocation, error) {
	logger := common.LoggerWith(ctx, r.Logger)
	start := time.Now()

	cmdLine := strings.Join(append([]string{name}, args...), " ")
	logger.Debug("running command", "cmd_line", cmdLine)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	inv := Invocation{
		Stdout:   out.Bytes(),
		Stderr:   errb.Bytes(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		inv.ExitCode = -1
		logger.Warn("exec cancelled", "cmd", name, "duration_ms", inv.Duration.Milliseconds())
		return inv, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		logger.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", inv.Duration.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	case errors.As(err, &exitErr):
		inv.ExitCode = exitErr.ExitCode()
		logger.Error("exec failed",
			"cmd", name,
			"exit_code", inv.ExitCode,
			"duration_ms", inv.Duration.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10), // cap at 8KB
		)
	default:
		inv.ExitCode = -1
		logger.Error("exec could not start", "cmd", name, "error", err)
	}
	return inv, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
