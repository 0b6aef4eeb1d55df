package main

import (
	"path/filepath"
	"testing"
)

func TestRunReturnsDisabledCode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", filepath.Join(dir, "ocr.db"))
	t.Setenv("OCR_WORK_DIR", filepath.Join(dir, "work"))
	t.Setenv("STORAGE_LOCAL_ROOT", filepath.Join(dir, "data"))
	t.Setenv("OCR_BACKFILL_ENABLED", "false")
	t.Setenv("OCR_FAMILIES_FILE", "")
	t.Setenv("LOG_LEVEL", "error")

	if code := run(); code != 3 {
		t.Fatalf("run() = %d, want 3", code)
	}
}
