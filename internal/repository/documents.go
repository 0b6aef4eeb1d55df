package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/entity"
)

// DocumentStore reads and writes the documents of one family.
type DocumentStore interface {
	Family() string
	// FetchPending returns up to limit PENDING documents, never-tried ones first,
	// then by LastTriedAt ascending.
	FetchPending(ctx context.Context, limit int) ([]*entity.Document, error)
	Get(ctx context.Context, id string) (*entity.Document, error)
	Create(ctx context.Context, doc *entity.Document) error
	// Save writes the OCR state of doc back to its row.
	Save(ctx context.Context, doc *entity.Document) error
	// FindBannerSucceeded returns SUCCEEDED documents whose text looks like an OCR banner.
	FindBannerSucceeded(ctx context.Context) ([]*entity.Document, error)
	CountByStatus(ctx context.Context) (map[constants.OCRStatus]int, error)
	// ListByStatus returns up to limit documents in status, most recently updated first.
	ListByStatus(ctx context.Context, status constants.OCRStatus, limit int) ([]*entity.Document, error)
}

// familyTables maps every family to the table holding its documents.
var familyTables = map[string]string{
	constants.FamilyDocRepo:    "docrepo_documents",
	constants.FamilyProject:    "project_documents",
	constants.FamilyAttachment: "attachments",
}

var documentColumns = []string{
	"id",
	"file_name",
	"content_type",
	"storage_ref",
	"derivative_ref",
	"ocr_status",
	"extracted_text",
	"failure_reason",
	"last_tried_at",
	"created_at",
	"updated_at",
}

type documentRepo struct {
	db     *DB
	family string
	table  string
	logger *slog.Logger
	now    func() time.Time
}

// NewDocumentRepository returns the store of one family.
func NewDocumentRepository(db *DB, family string, logger *slog.Logger) (DocumentStore, error) {
	table, ok := familyTables[family]
	if !ok {
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown family %q", family), common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{
		db:     db,
		family: family,
		table:  table,
		logger: logger.With("family", family),
		now:    time.Now,
	}, nil
}

// NewDocumentStores builds one store per family name.
func NewDocumentStores(db *DB, families []string, logger *slog.Logger) (map[string]DocumentStore, error) {
	out := make(map[string]DocumentStore, len(families))
	for _, f := range families {
		s, err := NewDocumentRepository(db, f, logger)
		if err != nil {
			return nil, err
		}
		out[f] = s
	}
	return out, nil
}

func (r *documentRepo) Family() string { return r.family }

func (r *documentRepo) selector() *entsql.Selector {
	d := entsql.Dialect(r.db.Dialect())
	return d.Select(documentColumns...).From(d.Table(r.table))
}

func (r *documentRepo) FetchPending(ctx context.Context, limit int) ([]*entity.Document, error) {
	if limit <= 0 {
		limit = 1
	}
	q, args := r.selector().
		Where(entsql.EQ("ocr_status", string(constants.OCRStatusPending))).
		OrderExpr(entsql.Expr("last_tried_at IS NOT NULL")).
		OrderBy(entsql.Asc("last_tried_at"), entsql.Asc("created_at")).
		Limit(limit).
		Query()
	docs, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to fetch pending documents", "error", err)
		return nil, common.WrapError(err, "fetch pending")
	}
	return docs, nil
}

func (r *documentRepo) Get(ctx context.Context, id string) (*entity.Document, error) {
	q, args := r.selector().Where(entsql.EQ("id", id)).Query()
	docs, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to get document", "doc_id", id, "error", err)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %s/%s: %w", r.family, id, common.ErrNotFound)
	}
	return docs[0], nil
}

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.OCRStatus == "" {
		doc.OCRStatus = constants.OCRStatusPending
	}
	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	doc.Family = r.family
	if err := doc.Validate(); err != nil {
		return err
	}

	q, args := entsql.Dialect(r.db.Dialect()).
		Insert(r.table).
		Columns(documentColumns...).
		Values(
			doc.ID,
			doc.FileName,
			doc.ContentType,
			doc.StorageRef,
			nullString(doc.DerivativeRef),
			string(doc.OCRStatus),
			nullString(doc.ExtractedText),
			nullString(doc.FailureReason),
			nullTime(doc.LastTriedAt),
			doc.CreatedAt.UTC(),
			doc.UpdatedAt.UTC(),
		).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create document", "doc_id", doc.ID, "error", err)
		return common.WrapError(err, "create document")
	}
	return nil
}

func (r *documentRepo) Save(ctx context.Context, doc *entity.Document) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = r.now().UTC()
	}
	u := entsql.Dialect(r.db.Dialect()).
		Update(r.table).
		Set("ocr_status", string(doc.OCRStatus)).
		Set("updated_at", doc.UpdatedAt.UTC())
	u = setOrNull(u, "derivative_ref", doc.DerivativeRef)
	u = setOrNull(u, "extracted_text", doc.ExtractedText)
	u = setOrNull(u, "failure_reason", doc.FailureReason)
	if doc.LastTriedAt != nil {
		u = u.Set("last_tried_at", doc.LastTriedAt.UTC())
	} else {
		u = u.SetNull("last_tried_at")
	}
	q, args := u.Where(entsql.EQ("id", doc.ID)).Query()

	var res entsql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("failed to save document", "doc_id", doc.ID, "error", err)
		return common.WrapError(err, "save document")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s/%s: %w", r.family, doc.ID, common.ErrNotFound)
	}
	return nil
}

// Banner fragments used to prefilter candidates in SQL. Matches are confirmed by the caller.
var bannerFragments = []string{"ocr skipped on page", "prior ocr"}

func (r *documentRepo) FindBannerSucceeded(ctx context.Context) ([]*entity.Document, error) {
	var anyFragment []*entsql.Predicate
	for _, f := range bannerFragments {
		anyFragment = append(anyFragment, entsql.ContainsFold("extracted_text", f))
	}
	q, args := r.selector().
		Where(entsql.And(
			entsql.EQ("ocr_status", string(constants.OCRStatusSucceeded)),
			entsql.NotNull("extracted_text"),
			entsql.Or(anyFragment...),
		)).
		OrderBy(entsql.Asc("created_at")).
		Query()
	docs, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to scan for banner text", "error", err)
		return nil, common.WrapError(err, "find banner documents")
	}
	return docs, nil
}

func (r *documentRepo) ListByStatus(ctx context.Context, status constants.OCRStatus, limit int) ([]*entity.Document, error) {
	sel := r.selector().
		Where(entsql.EQ("ocr_status", string(status))).
		OrderBy(entsql.Desc("updated_at"), entsql.Asc("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	docs, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to list documents", "status", status, "error", err)
		return nil, common.WrapError(err, "list by status")
	}
	return docs, nil
}

func (r *documentRepo) CountByStatus(ctx context.Context) (map[constants.OCRStatus]int, error) {
	d := entsql.Dialect(r.db.Dialect())
	q, args := d.Select("ocr_status", entsql.Count("*")).
		From(d.Table(r.table)).
		GroupBy("ocr_status").
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[constants.OCRStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[constants.OCRStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *documentRepo) query(ctx context.Context, q string, args []any) ([]*entity.Document, error) {
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		var (
			doc                      entity.Document
			status                   string
			derivative, text, reason entsql.NullString
			lastTried                entsql.NullTime
		)
		if err := rows.Scan(
			&doc.ID,
			&doc.FileName,
			&doc.ContentType,
			&doc.StorageRef,
			&derivative,
			&status,
			&text,
			&reason,
			&lastTried,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		doc.Family = r.family
		doc.OCRStatus = constants.OCRStatus(status)
		doc.DerivativeRef = stringPtr(derivative)
		doc.ExtractedText = stringPtr(text)
		doc.FailureReason = stringPtr(reason)
		if lastTried.Valid {
			t := lastTried.Time.UTC()
			doc.LastTriedAt = &t
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func setOrNull(u *entsql.UpdateBuilder, col string, v *string) *entsql.UpdateBuilder {
	if v == nil {
		return u.SetNull(col)
	}
	return u.Set(col, *v)
}

func nullString(v *string) entsql.NullString {
	if v == nil {
		return entsql.NullString{}
	}
	return entsql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) entsql.NullTime {
	if v == nil {
		return entsql.NullTime{}
	}
	return entsql.NullTime{Time: v.UTC(), Valid: true}
}

func stringPtr(v entsql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
