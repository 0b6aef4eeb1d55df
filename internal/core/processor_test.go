package core

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/convert"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/ocr"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/persist"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

type memStorage map[string]string

func (m memStorage) OpenRead(_ context.Context, ref string) (io.ReadCloser, error) {
	body, ok := m[ref]
	if !ok {
		return nil, common.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakeOCR struct {
	res     ocr.Result
	err     error
	calls   int
	content string
}

func (f *fakeOCR) Run(_ context.Context, req ocr.Request) (ocr.Result, error) {
	f.calls++
	b, _ := os.ReadFile(req.SourcePath)
	f.content = string(b)
	return f.res, f.err
}

type fakeCombiner struct {
	in         convert.Input
	derivative string
	out        persist.Outcome
	err        error
	calls      int
}

func (f *fakeCombiner) Combine(_ context.Context, in convert.Input) (persist.Outcome, error) {
	f.calls++
	f.in = in
	if in.DerivativePath != "" {
		b, _ := os.ReadFile(in.DerivativePath)
		f.derivative = string(b)
	}
	return f.out, f.err
}

func newTestProcessor(t *testing.T, store memStorage, o *fakeOCR, c *fakeCombiner) (*Processor, ocr.WorkDirs) {
	t.Helper()
	root := t.TempDir()
	dirs := ocr.WorkDirs{Input: root + "/input", Output: root + "/output", Logs: root + "/logs"}
	return NewProcessor(nil, store, o, c, dirs), dirs
}

func assertInputEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("input dir still holds %d files", len(entries))
	}
}

func TestProcessPDFRoutesToOCR(t *testing.T) {
	tests := []struct {
		name string
		res  ocr.Result
		want persist.Outcome
	}{
		{
			name: "success",
			res:  ocr.Result{Kind: ocr.Success, Text: "Invoice 42", LogPath: "/logs/a.log"},
			want: persist.Succeeded("Invoice 42", "/logs/a.log"),
		},
		{
			name: "failure",
			res:  ocr.Result{Kind: ocr.Failure, Reason: "unusable text, see /logs/a.log", LogPath: "/logs/a.log"},
			want: persist.Failed("unusable text, see /logs/a.log", "/logs/a.log"),
		},
		{
			name: "not applicable",
			res:  ocr.Result{Kind: ocr.NotApplicable, Reason: "not a pdf"},
			want: persist.Skipped("not a pdf"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOCR{res: tt.res}
			c := &fakeCombiner{}
			p, dirs := newTestProcessor(t, memStorage{"s3://b/a.pdf": "%PDF-1.7 body"}, o, c)
			got, err := p.Process(context.Background(), &entity.Document{
				ID: "doc-1", Family: constants.FamilyDocRepo, FileName: "a.pdf",
				ContentType: "application/pdf", StorageRef: "s3://b/a.pdf",
			})
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %+v, want %+v", got, tt.want)
			}
			if o.calls != 1 || c.calls != 0 {
				t.Errorf("ocr calls = %d, combiner calls = %d", o.calls, c.calls)
			}
			if o.content != "%PDF-1.7 body" {
				t.Errorf("ocr saw %q", o.content)
			}
			assertInputEmpty(t, dirs.Input)
		})
	}
}

func TestProcessOfficeUsesDerivative(t *testing.T) {
	o := &fakeOCR{}
	c := &fakeCombiner{out: persist.Succeeded("Body", "")}
	deriv := "gs://bucket/rendition.pdf"
	p, dirs := newTestProcessor(t, memStorage{
		"docs/report.docx": "docx bytes",
		deriv:              "%PDF-derivative",
	}, o, c)

	got, err := p.Process(context.Background(), &entity.Document{
		ID: "doc-2", Family: constants.FamilyProject, FileName: "report.DOCX",
		ContentType: constants.MimeDocx, StorageRef: "docs/report.docx", DerivativeRef: &deriv,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != persist.Succeeded("Body", "") {
		t.Errorf("outcome = %+v", got)
	}
	if o.calls != 0 {
		t.Errorf("office document went straight to ocr")
	}
	if c.derivative != "%PDF-derivative" {
		t.Errorf("derivative content = %q", c.derivative)
	}
	if !strings.HasSuffix(c.in.SourcePath, ".docx") || c.in.NoConversion {
		t.Errorf("combiner input = %+v", c.in)
	}
	assertInputEmpty(t, dirs.Input)
}

func TestProcessTextDisablesConversion(t *testing.T) {
	c := &fakeCombiner{out: persist.Succeeded("hello", "")}
	missing := "s3://b/gone.pdf"
	p, _ := newTestProcessor(t, memStorage{"notes.txt": "hello"}, &fakeOCR{}, c)
	_, err := p.Process(context.Background(), &entity.Document{
		ID: "doc-3", Family: constants.FamilyAttachment, FileName: "notes",
		ContentType: "text/plain; charset=utf-8", StorageRef: "notes.txt", DerivativeRef: &missing,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !c.in.NoConversion {
		t.Error("plain text should not be converted")
	}
	if c.in.DerivativePath != "" {
		t.Errorf("missing derivative produced path %q", c.in.DerivativePath)
	}
	if !strings.HasSuffix(c.in.SourcePath, ".txt") {
		t.Errorf("source path = %q", c.in.SourcePath)
	}
}

func TestProcessUnsupportedSkipsWithoutFetching(t *testing.T) {
	o := &fakeOCR{}
	p, _ := newTestProcessor(t, memStorage{}, o, &fakeCombiner{})
	got, err := p.Process(context.Background(), &entity.Document{
		ID: "doc-4", ContentType: "image/png", StorageRef: "missing.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.OCRStatusSkipped || got.Reason != "unsupported content type image/png" {
		t.Errorf("outcome = %+v", got)
	}
}

func TestProcessMissingSourceFails(t *testing.T) {
	p, _ := newTestProcessor(t, memStorage{}, &fakeOCR{}, &fakeCombiner{})
	got, err := p.Process(context.Background(), &entity.Document{
		ID: "doc-5", ContentType: constants.MimePDF, StorageRef: "s3://b/nope.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.OCRStatusFailed || !strings.HasPrefix(got.Reason, "fetch source: ") {
		t.Errorf("outcome = %+v", got)
	}
}

func TestProcessPropagatesCancellation(t *testing.T) {
	p, _ := newTestProcessor(t, memStorage{"a.pdf": "%PDF"}, &fakeOCR{err: context.Canceled}, &fakeCombiner{})
	_, err := p.Process(context.Background(), &entity.Document{ID: "d", ContentType: constants.MimePDF, StorageRef: "a.pdf"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, &entity.Document{ID: "d", ContentType: constants.MimePDF, StorageRef: "a.pdf"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled fetch err = %v, want context.Canceled", err)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("a/b c:1"); got != "a_b_c_1" {
		t.Errorf("safeName = %q", got)
	}
}
