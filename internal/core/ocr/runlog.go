package ocr

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// runLog is the per-run diagnostics file. The first write truncates it, later
// writes append, and every write is mirrored to the "-latest" copy.
type runLog struct {
	path    string
	latest  string
	started bool
	logger  *slog.Logger
	now     func() time.Time
}

func newRunLog(path, latest string, logger *slog.Logger, now func() time.Time) *runLog {
	return &runLog{path: path, latest: latest, logger: logger, now: now}
}

func (l *runLog) note(msg string) {
	l.write(fmt.Sprintf("[%s] %s\n", l.now().UTC().Format(time.RFC3339), msg))
}

func (l *runLog) pass(label, name string, args []string, inv Invocation, runErr error) {
	var b strings.Builder
	fmt.Fprintf(&b, "=== pass %s @ %s\n", label, l.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "argv: %s\n", strings.Join(append([]string{name}, args...), " "))
	fmt.Fprintf(&b, "exit: %d (%s)\n", inv.ExitCode, inv.Duration.Round(time.Millisecond))
	if runErr != nil {
		fmt.Fprintf(&b, "error: %v\n", runErr)
	}
	b.WriteString("--- stdout\n")
	b.Write(inv.Stdout)
	b.WriteString("\n--- stderr\n")
	b.Write(inv.Stderr)
	b.WriteString("\n")
	l.write(b.String())
}

// write failures only cost diagnostics, so they are logged and otherwise ignored.
func (l *runLog) write(entry string) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !l.started {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(l.path, flags, 0o644)
	if err != nil {
		l.logger.Warn("cannot open ocr run log", "path", l.path, "error", err)
		return
	}
	_, werr := f.WriteString(entry)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		l.logger.Warn("cannot write ocr run log", "path", l.path, "error", firstErr(werr, cerr))
		return
	}
	l.started = true
	l.mirror()
}

// mirror copies the run log over the latest log. Errors are swallowed.
func (l *runLog) mirror() {
	if l.latest == "" {
		return
	}
	src, err := os.Open(l.path)
	if err != nil {
		return
	}
	defer src.Close()
	dst, err := os.Create(l.latest)
	if err != nil {
		return
	}
	_, _ = io.Copy(dst, src)
	_ = dst.Close()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
