// Package ingest registers files found on disk as PENDING documents.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// Result is the per-file registration outcome.
type Result struct {
	Path         string `json:"path"`
	DocumentID   string `json:"document_id,omitempty"`
	StorageRef   string `json:"storage_ref,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Err          string `json:"error,omitempty"`
}

// DirStats summarizes a directory registration.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Store is the slice of a family's document store registration needs.
type Store interface {
	Family() string
	Get(ctx context.Context, id string) (*entity.Document, error)
	Create(ctx context.Context, doc *entity.Document) error
}
