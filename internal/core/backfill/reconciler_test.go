package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/repository"
)

type processorFunc func(ctx context.Context, doc *entity.Document) (persist.Outcome, error)

func (f processorFunc) Process(ctx context.Context, doc *entity.Document) (persist.Outcome, error) {
	return f(ctx, doc)
}

func ptr[T any](v T) *T { return &v }

func seededStore(t *testing.T, family string, docs map[string]string) repository.DocumentStore {
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
	store, err := repository.NewDocumentRepository(db, family, nil)
	if err != nil {
		t.Fatal(err)
	}
	for id, text := range docs {
		doc := &entity.Document{
			ID:            id,
			FileName:      id + ".pdf",
			ContentType:   constants.MimePDF,
			StorageRef:    id + ".pdf",
			OCRStatus:     constants.OCRStatusSucceeded,
			ExtractedText: ptr(text),
			LastTriedAt:   ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		}
		if err := store.Create(ctx, doc); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	return store
}

func TestReconcilerReprocessesBannerOnlyRecords(t *testing.T) {
	store := seededStore(t, constants.FamilyDocRepo, map[string]string{
		"banner-1": "[OCR skipped on page 1]",
		"banner-2": "  (Prior OCR detected)\n[OCR skipped on pages 1-3]  ",
		"genuine":  "Quarterly report\n[OCR skipped on page 2]\nRevenue grew",
		"clean":    "Nothing to see",
	})
	var seen []string
	proc := processorFunc(func(_ context.Context, doc *entity.Document) (persist.Outcome, error) {
		if doc.OCRStatus != constants.OCRStatusPending || doc.ExtractedText != nil || doc.LastTriedAt != nil {
			t.Errorf("%s was not reset before processing: %+v", doc.ID, doc)
		}
		seen = append(seen, doc.ID)
		return persist.Succeeded("real text for "+doc.ID, "/logs/"+doc.ID+".log"), nil
	})

	rep, err := NewReconciler(true, []Store{store}, proc, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Report{Scanned: 3, Processed: 2, PerFamily: map[string]int{constants.FamilyDocRepo: 2}}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if len(seen) != 2 {
		t.Fatalf("processed %v, want the two banner-only records", seen)
	}
	for _, id := range []string{"banner-1", "banner-2"} {
		doc, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if doc.OCRStatus != constants.OCRStatusSucceeded || doc.Text() != "real text for "+id {
			t.Errorf("%s after backfill = %+v", id, doc)
		}
	}
	genuine, err := store.Get(context.Background(), "genuine")
	if err != nil {
		t.Fatal(err)
	}
	if genuine.Text() != "Quarterly report\n[OCR skipped on page 2]\nRevenue grew" {
		t.Errorf("genuine record was touched: %q", genuine.Text())
	}

	again, err := NewReconciler(true, []Store{store}, proc, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Processed != 0 {
		t.Errorf("second run processed %d, want 0", again.Processed)
	}
}

func TestReconcilerCountsFailures(t *testing.T) {
	store := seededStore(t, constants.FamilyProject, map[string]string{"b": "[OCR skipped on page 1]"})
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		panic("tool exploded")
	})
	rep, err := NewReconciler(true, []Store{store}, proc, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Processed != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	doc, err := store.Get(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if doc.OCRStatus != constants.OCRStatusFailed || doc.Reason() != "panic: tool exploded" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestReconcilerDisabled(t *testing.T) {
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		t.Fatal("processor must not run")
		return persist.Outcome{}, nil
	})
	store := seededStore(t, constants.FamilyDocRepo, map[string]string{"b": "[OCR skipped on page 1]"})
	rep, err := NewReconciler(false, []Store{store}, proc, nil, nil).Run(context.Background())
	if !errors.Is(err, ErrDisabled) || rep.Processed != 0 {
		t.Fatalf("Run = %+v, %v", rep, err)
	}
}

func TestReconcilerStopsOnCancel(t *testing.T) {
	store := seededStore(t, constants.FamilyAttachment, map[string]string{
		"a": "[OCR skipped on page 1]",
		"b": "[OCR skipped on page 1]",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	proc := processorFunc(func(ctx context.Context, _ *entity.Document) (persist.Outcome, error) {
		calls++
		cancel()
		return persist.Outcome{}, ctx.Err()
	})
	rep, err := NewReconciler(true, []Store{store}, proc, nil, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 || rep.Processed != 0 || rep.Scanned != 2 {
		t.Errorf("calls = %d, report = %+v", calls, rep)
	}
}
