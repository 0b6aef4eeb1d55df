package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
)

// Opener resolves a storage reference to a stream of the stored bytes.
type Opener interface {
	OpenRead(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Ref is a parsed storage reference such as "s3://bucket/key" or "docs/a.pdf".
type Ref struct {
	Scheme string // "file", "s3" or "gs"
	Bucket string
	Key    string
}

// ParseRef splits ref into scheme, bucket and key. Bare paths use the "file" scheme.
func ParseRef(ref string) (Ref, error) {
	if ref == "" {
		return Ref{}, fmt.Errorf("empty storage ref: %w", common.ErrInvalidInput)
	}
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return Ref{Scheme: "file", Key: ref}, nil
	}
	scheme = strings.ToLower(scheme)
	switch scheme {
	case "file":
		return Ref{Scheme: scheme, Key: rest}, nil
	case "s3", "gs":
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("storage ref %q needs a bucket and a key: %w", ref, common.ErrInvalidInput)
		}
		return Ref{Scheme: scheme, Bucket: bucket, Key: key}, nil
	default:
		return Ref{}, fmt.Errorf("storage scheme %q: %w", scheme, common.ErrUnsupported)
	}
}

// Router dispatches OpenRead to the backend registered for the ref's scheme.
type Router struct {
	backends map[string]Opener
	logger   *slog.Logger
}

// NewRouter creates a router with no backends.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{backends: make(map[string]Opener), logger: logger}
}

// Register installs op for scheme ("file", "s3", "gs").
func (r *Router) Register(scheme string, op Opener) *Router {
	r.backends[strings.ToLower(scheme)] = op
	return r
}

func (r *Router) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	op, ok := r.backends[parsed.Scheme]
	if !ok {
		return nil, fmt.Errorf("no storage backend for %q: %w", parsed.Scheme, common.ErrStorage)
	}
	rc, err := op.OpenRead(ctx, ref)
	if err != nil {
		r.logger.Warn("storage read failed", "scheme", parsed.Scheme, "ref", ref, "error", err)
		return nil, err
	}
	return rc, nil
}

// NewFromConfig registers the local backend, the S3 backend and, when enabled, GCS.
// The returned cleanup releases backend clients.
func NewFromConfig(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (*Router, func(), error) {
	r := NewRouter(logger)
	r.Register("file", NewLocal(cfg.LocalRoot))

	s3c, err := NewS3(ctx, S3Config{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
		Endpoint:  cfg.AWSEndpoint,
	})
	if err != nil {
		return nil, nil, err
	}
	r.Register("s3", s3c)

	cleanup := func() {}
	if cfg.GCSEnabled {
		g, err := NewGCS(ctx)
		if err != nil {
			return nil, nil, err
		}
		r.Register("gs", g)
		cleanup = func() {
			if err := g.Close(); err != nil {
				r.logger.Warn("failed to close gcs client", "error", err)
			}
		}
	}
	return r, cleanup, nil
}
