package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// Local serves refs from a directory on the local filesystem.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

// Path returns the filesystem path of ref, refusing refs that escape Root.
func (l *Local) Path(ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("local storage cannot open %q: %w", ref, common.ErrInvalidInput)
	}
	if filepath.IsAbs(parsed.Key) && l.Root == "" {
		return filepath.Clean(parsed.Key), nil
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(parsed.Key, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage ref %q escapes the root: %w", ref, common.ErrInvalidInput)
	}
	return filepath.Join(l.Root, rel), nil
}

func (l *Local) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}
