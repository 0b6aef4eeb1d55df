package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/backfill"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	root := t.TempDir()
	return &common.Config{
		Database: common.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true},
		OCR:      common.OCRConfig{Binary: "ocrmypdf", WorkDir: filepath.Join(root, "work")},
		Storage:  common.StorageConfig{LocalRoot: filepath.Join(root, "data"), AWSRegion: "us-east-2"},
		Pollers: []common.FamilyConfig{
			{Name: constants.FamilyDocRepo, Enabled: true, Interval: time.Second, BatchSize: 2, Backoff: time.Second},
			{Name: constants.FamilyProject, Enabled: false},
			{Name: constants.FamilyAttachment, Enabled: true, Interval: time.Second, BatchSize: 2, Backoff: time.Second},
		},
	}
}

func TestBuildProcessesPlainTextEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.Storage.LocalRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Storage.LocalRoot, "notes.txt"), []byte("Meeting notes\r\n\r\n\r\nAction items"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Build(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()

	store := p.Stores[constants.FamilyAttachment]
	doc := &entity.Document{ID: "att-1", FileName: "notes.txt", ContentType: "text/plain", StorageRef: "notes.txt"}
	if err := store.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pollers := p.Pollers()
	if len(pollers) != 2 {
		t.Fatalf("pollers = %d, want one per enabled family", len(pollers))
	}
	var attachments int
	for _, pl := range pollers {
		if pl.Family() != constants.FamilyAttachment {
			continue
		}
		attachments++
		if n, err := pl.RunOnce(ctx); err != nil || n != 1 {
			t.Fatalf("RunOnce = %d, %v", n, err)
		}
	}
	if attachments != 1 {
		t.Fatalf("attachment poller missing")
	}

	got, err := store.Get(ctx, "att-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OCRStatus != constants.OCRStatusSucceeded || got.Text() != "Meeting notes\n\nAction items" {
		t.Errorf("stored doc = %+v", got)
	}
	if got.LastTriedAt == nil {
		t.Error("last_tried_at was not set by the claim")
	}
}

func TestReconcilerHonoursFlag(t *testing.T) {
	p, err := Build(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer p.Close()

	if _, err := p.Reconciler(false).Run(context.Background()); !errors.Is(err, backfill.ErrDisabled) {
		t.Errorf("disabled run err = %v", err)
	}
	rep, err := p.Reconciler(true).Run(context.Background())
	if err != nil || rep.Processed != 0 {
		t.Errorf("enabled run on empty db = %+v, %v", rep, err)
	}
}
