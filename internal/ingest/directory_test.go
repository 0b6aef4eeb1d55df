package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/repository"
)

func openStore(t *testing.T) repository.DocumentStore {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repository.Close(db, nil) })
	if err := repository.Migrate(ctx, db, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	store, err := repository.NewDocumentRepository(db, constants.FamilyProject, nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRegisterDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFiles(t, root, "docs/a.pdf", "docs/sub/b.DOCX", "docs/.hidden/c.pdf", "docs/photo.png")
	store := openStore(t)
	r := NewRegistrar(store, root, nil)

	results, stats, err := r.RegisterDirectory(ctx, filepath.Join(root, "docs"), true)
	if err != nil {
		t.Fatalf("RegisterDirectory: %v", err)
	}
	if stats.Matched != 2 || stats.Succeeded != 2 || stats.Failed != 0 || stats.Deduplicated != 0 {
		t.Errorf("stats = %+v", stats)
	}
	refs := map[string]string{}
	for _, res := range results {
		refs[res.StorageRef] = res.ContentType
	}
	want := map[string]string{"docs/a.pdf": constants.MimePDF, "docs/sub/b.DOCX": constants.MimeDocx}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("registered refs (-want +got):\n%s", diff)
	}

	doc, err := store.Get(ctx, DocumentID(constants.FamilyProject, "docs/a.pdf"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.OCRStatus != constants.OCRStatusPending || doc.FileName != "a.pdf" {
		t.Errorf("doc = %+v", doc)
	}

	_, again, err := r.RegisterDirectory(ctx, filepath.Join(root, "docs"), true)
	if err != nil {
		t.Fatal(err)
	}
	if again.Succeeded != 2 || again.Deduplicated != 2 {
		t.Errorf("second run stats = %+v", again)
	}
}

func TestRegisterPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	writeFiles(t, other, "x.pdf")
	_, err := NewRegistrar(openStore(t), root, nil).RegisterPath(context.Background(), filepath.Join(other, "x.pdf"))
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDocumentIDIsStable(t *testing.T) {
	a := DocumentID(constants.FamilyDocRepo, "docs/a.pdf")
	if a != DocumentID(constants.FamilyDocRepo, "docs/a.pdf") {
		t.Error("same ref produced different ids")
	}
	if a == DocumentID(constants.FamilyProject, "docs/a.pdf") {
		t.Error("families share ids")
	}
}
