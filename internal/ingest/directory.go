package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// documentNamespace seeds the deterministic document ids derived from storage refs.
var documentNamespace = uuid.MustParse("0b6f6a52-3f0e-4d8a-9a43-5c1d2e7f9b10")

// DocumentID returns the id a file registered under ref receives in family.
// Registering the same ref twice yields the same id.
func DocumentID(family, ref string) string {
	return uuid.NewSHA1(documentNamespace, []byte(family+"/"+ref)).String()
}

// Registrar walks a directory below the local storage root and creates a
// PENDING document for every file with a supported extension.
type Registrar struct {
	store  Store
	root   string
	logger *slog.Logger
}

// NewRegistrar registers files into store. root is the local storage root; refs are
// stored relative to it so the local backend can resolve them.
func NewRegistrar(store Store, root string, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{store: store, root: root, logger: logger.With("family", store.Family())}
}

// RegisterDirectory walks dir (which must sit under the storage root) and registers
// each supported file. Hidden files and directories are skipped when skipHidden is set.
func (r *Registrar) RegisterDirectory(ctx context.Context, dir string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, DirStats{}, fmt.Errorf("directory is required: %w", common.ErrInvalidInput)
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != dir && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if constants.MimeForExt(filepath.Ext(path)) == "" {
			return nil
		}
		stats.Matched++

		res, err := r.RegisterPath(ctx, path)
		if err != nil {
			if common.IsCancellation(err) {
				return err
			}
			results = append(results, Result{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, res)
		stats.Succeeded++
		if res.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	r.logger.Info("directory registered",
		"dir", dir,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

// RegisterPath registers one file. A file already registered is reported as deduplicated.
func (r *Registrar) RegisterPath(ctx context.Context, path string) (Result, error) {
	ref, err := r.refFor(path)
	if err != nil {
		return Result{}, err
	}
	contentType := constants.MimeForExt(filepath.Ext(path))
	if contentType == "" {
		return Result{}, common.NewAppError(common.CodeUnsupportedContent, "unsupported extension "+filepath.Ext(path), common.ErrUnsupported)
	}

	id := DocumentID(r.store.Family(), ref)
	out := Result{Path: path, DocumentID: id, StorageRef: ref, ContentType: contentType}

	if _, err := r.store.Get(ctx, id); err == nil {
		out.Deduplicated = true
		return out, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return Result{}, err
	}

	doc := &entity.Document{
		ID:          id,
		FileName:    filepath.Base(path),
		ContentType: contentType,
		StorageRef:  ref,
		OCRStatus:   constants.OCRStatusPending,
	}
	if err := r.store.Create(ctx, doc); err != nil {
		return Result{}, err
	}
	r.logger.Debug("document registered", "doc_id", id, "storage_ref", ref)
	return out, nil
}

// refFor turns path into a slash-separated ref relative to the storage root.
func (r *Registrar) refFor(path string) (string, error) {
	absRoot, err := filepath.Abs(r.root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the storage root %s: %w", path, r.root, common.ErrInvalidInput)
	}
	return filepath.ToSlash(rel), nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
