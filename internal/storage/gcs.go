package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// GCS serves "gs://bucket/object" refs using application default credentials.
type GCS struct {
	client *gcs.Client
}

func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "gs" {
		return nil, fmt.Errorf("gcs storage cannot open %q: %w", ref, common.ErrInvalidInput)
	}
	r, err := g.client.Bucket(parsed.Bucket).Object(parsed.Key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return nil, fmt.Errorf("gcs read %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	return r, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
