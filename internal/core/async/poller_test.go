package async

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/repository"
)

type processorFunc func(ctx context.Context, doc *entity.Document) (persist.Outcome, error)

func (f processorFunc) Process(ctx context.Context, doc *entity.Document) (persist.Outcome, error) {
	return f(ctx, doc)
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func openStore(t *testing.T, family string, ids ...string) repository.DocumentStore {
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
		t.Fatalf("NewDocumentRepository: %v", err)
	}
	for _, id := range ids {
		doc := &entity.Document{ID: id, FileName: id + ".pdf", ContentType: constants.MimePDF, StorageRef: id + ".pdf"}
		if err := store.Create(ctx, doc); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	return store
}

func mustGet(t *testing.T, store repository.DocumentStore, id string) *entity.Document {
	t.Helper()
	doc, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return doc
}

func TestRunOnceClaimsBeforeProcessing(t *testing.T) {
	store := openStore(t, constants.FamilyDocRepo, "a")
	var claimed *time.Time
	proc := processorFunc(func(ctx context.Context, doc *entity.Document) (persist.Outcome, error) {
		claimed = mustGet(t, store, doc.ID).LastTriedAt
		return persist.Succeeded("hello world", "/logs/a.log"), nil
	})
	p := NewPoller(store, proc, nil, WithClock(fixedClock))

	n, err := p.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if claimed == nil || !claimed.Equal(testNow) {
		t.Fatalf("last_tried_at during processing = %v, want %v", claimed, testNow)
	}
	got := mustGet(t, store, "a")
	if got.OCRStatus != constants.OCRStatusSucceeded || got.Text() != "hello world" || got.FailureReason != nil {
		t.Errorf("stored doc = %+v", got)
	}
}

func TestRunOnceTurnsErrorsAndPanicsIntoFailed(t *testing.T) {
	store := openStore(t, constants.FamilyProject, "boom", "err")
	proc := processorFunc(func(_ context.Context, doc *entity.Document) (persist.Outcome, error) {
		if doc.ID == "boom" {
			panic("boom")
		}
		return persist.Outcome{}, errors.New("storage went away")
	})
	p := NewPoller(store, proc, nil, WithClock(fixedClock))

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	for id, reason := range map[string]string{"boom": "panic: boom", "err": "storage went away"} {
		got := mustGet(t, store, id)
		if got.OCRStatus != constants.OCRStatusFailed || got.Reason() != reason || got.ExtractedText != nil {
			t.Errorf("%s: status=%s reason=%q", id, got.OCRStatus, got.Reason())
		}
	}

	want := Stats{Family: constants.FamilyProject, Batches: 1, Processed: 2, Failed: 2, LastBatchAt: testNow}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelledDocumentIsNotPersisted(t *testing.T) {
	store := openStore(t, constants.FamilyAttachment, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	proc := processorFunc(func(ctx context.Context, doc *entity.Document) (persist.Outcome, error) {
		calls++
		cancel()
		return persist.Succeeded("late text", ""), ctx.Err()
	})
	p := NewPoller(store, proc, nil, WithClock(fixedClock))

	if _, err := p.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunOnce err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("processor called %d times after cancellation", calls)
	}
	counts, err := store.CountByStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[constants.OCRStatusPending] != 2 {
		t.Errorf("counts = %v, want both pending", counts)
	}
}

func TestRunSleepsOnlyWhenIdle(t *testing.T) {
	store := openStore(t, constants.FamilyDocRepo, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		cancel()
		return ctx.Err()
	}
	processed := 0
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		processed++
		return persist.Skipped("nothing here"), nil
	})
	p := NewPoller(store, proc, nil,
		WithBatchSize(1),
		WithInterval(time.Minute),
		WithClock(fixedClock),
		WithSleeper(sleeper),
	)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}
	if diff := cmp.Diff([]time.Duration{time.Minute}, sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if st := p.Stats(); st.Running || st.Skipped != 2 || st.Batches != 2 {
		t.Errorf("stats = %+v", st)
	}
}

type brokenStore struct{ fetches int }

func (b *brokenStore) Family() string { return constants.FamilyDocRepo }

func (b *brokenStore) FetchPending(context.Context, int) ([]*entity.Document, error) {
	b.fetches++
	return nil, errors.New("connection refused")
}

func (b *brokenStore) Save(context.Context, *entity.Document) error { return nil }

func TestRunBacksOffOnStoreErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &brokenStore{}
	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		t.Fatal("processor must not run")
		return persist.Outcome{}, nil
	})
	p := NewPoller(store, proc, nil, WithBackoff(3*time.Second), WithSleeper(sleeper))

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.fetches != 2 {
		t.Errorf("fetches = %d, want 2", store.fetches)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second, 3 * time.Second}, sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if st := p.Stats(); st.StoreErrors != 2 || st.LastError != "connection refused" {
		t.Errorf("stats = %+v", st)
	}
}

// readOnlyStore serves one pending document forever but cannot write.
type readOnlyStore struct{ fetches int }

func (r *readOnlyStore) Family() string { return constants.FamilyAttachment }

func (r *readOnlyStore) FetchPending(context.Context, int) ([]*entity.Document, error) {
	r.fetches++
	return []*entity.Document{{ID: "stuck", Family: constants.FamilyAttachment, ContentType: constants.MimePDF}}, nil
}

func (r *readOnlyStore) Save(context.Context, *entity.Document) error {
	return errors.New("disk full")
}

func TestRunBacksOffWhenClaimsCannotBeSaved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &readOnlyStore{}
	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		t.Fatal("unclaimed document must not be processed")
		return persist.Outcome{}, nil
	})
	p := NewPoller(store, proc, nil,
		WithBackoff(2*time.Second),
		WithInterval(time.Minute),
		WithClock(fixedClock),
		WithSleeper(sleeper),
	)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.fetches != 3 {
		t.Errorf("fetches = %d, want one per backoff", store.fetches)
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if st := p.Stats(); st.StoreErrors != 3 || st.LastError != "disk full" || st.Processed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunOnceReportsUnsavedDocuments(t *testing.T) {
	p := NewPoller(&readOnlyStore{}, processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		return persist.Succeeded("text", ""), nil
	}), nil, WithClock(fixedClock))

	n, err := p.RunOnce(context.Background())
	if n != 1 || err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("RunOnce = %d, %v; want 1 and a disk full error", n, err)
	}
}

func TestRunBacksOffAfterProcessingErrors(t *testing.T) {
	store := openStore(t, constants.FamilyDocRepo, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		cancel()
		return ctx.Err()
	}
	proc := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		panic("converter crashed")
	})
	p := NewPoller(store, proc, nil,
		WithBackoff(4*time.Second),
		WithInterval(time.Minute),
		WithClock(fixedClock),
		WithSleeper(sleeper),
	)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{4 * time.Second}, sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if got := mustGet(t, store, "a"); got.OCRStatus != constants.OCRStatusFailed || got.Reason() != "panic: converter crashed" {
		t.Errorf("stored doc = status %s reason %q", got.OCRStatus, got.Reason())
	}
}

func TestGroupRunsEveryFamily(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idle := func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ok := processorFunc(func(context.Context, *entity.Document) (persist.Outcome, error) {
		return persist.Succeeded("text", ""), nil
	})
	var pollers []*Poller
	for _, fam := range []string{constants.FamilyProject, constants.FamilyDocRepo} {
		pollers = append(pollers, NewPoller(openStore(t, fam, fam+"-1"), ok, nil, WithClock(fixedClock), WithSleeper(idle)))
	}
	g := NewGroup(nil, pollers...)

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		stats := g.Stats()
		if stats[0].Succeeded == 1 && stats[1].Succeeded == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pollers did not finish: %+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := g.Stats()
	want := []Stats{
		{Family: constants.FamilyDocRepo, Batches: 1, Processed: 1, Succeeded: 1, LastBatchAt: testNow},
		{Family: constants.FamilyProject, Batches: 1, Processed: 1, Succeeded: 1, LastBatchAt: testNow},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Stats{}, "Running")); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
