package documents

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	fixed := time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)
	return &PGRepo{DB: db, now: func() time.Time { return fixed }}, mock
}

func TestPGRepoGetByIDLoadsAttachmentsInOrder(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, title, full_text, created_at, updated_at\\s+FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "full_text", "created_at", "updated_at"}).
			AddRow("doc-1", "Q1 Report", "quarterly", created, created))
	mock.ExpectQuery("FROM document_attachments\\s+WHERE document_id = \\$1\\s+ORDER BY seq ASC").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_user_id", "blob_key", "title", "mime_type", "size_bytes", "created_at"}).
			AddRow("att-1", "user-1", "documents/1-a.pdf", "a.pdf", "application/pdf", int64(10), created).
			AddRow("att-2", "user-1", "documents/2-b.png", "b.png", "image/png", int64(20), created))

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(doc.Attachments) != 2 || doc.Attachments[0].ID != "att-1" || doc.Attachments[1].ID != "att-2" {
		t.Fatalf("unexpected attachments: %+v", doc.Attachments)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM documents").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoAppendAttachmentsLocksAndCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)
	atts := []Attachment{
		{ID: "att-1", OwnerUserID: "user-1", BlobKey: "documents/1-a.pdf", Title: "a.pdf", MimeType: "application/pdf", SizeBytes: 3, CreatedAt: now},
		{ID: "att-2", OwnerUserID: "user-1", BlobKey: "documents/2-b.png", Title: "b.png", MimeType: "image/png", SizeBytes: 4, CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM documents WHERE id = $1 FOR UPDATE")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	for _, a := range atts {
		mock.ExpectExec("INSERT INTO document_attachments").
			WithArgs(a.ID, "doc-1", a.OwnerUserID, a.BlobKey, a.Title, a.MimeType, a.SizeBytes, a.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("UPDATE documents SET updated_at").
		WithArgs("doc-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.AppendAttachments(context.Background(), "doc-1", atts); err != nil {
		t.Fatalf("AppendAttachments: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoAppendAttachmentsDuplicateKeyRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM documents WHERE id = $1 FOR UPDATE")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectExec("INSERT INTO document_attachments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "document_attachments_blob_key_key"})
	mock.ExpectRollback()

	err := repo.AppendAttachments(context.Background(), "doc-1", []Attachment{{ID: "att-1", BlobKey: "documents/1-a.pdf"}})
	if !errors.Is(err, ErrDuplicateBlobKey) {
		t.Fatalf("expected ErrDuplicateBlobKey, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoAppendAttachmentsMissingDocument(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("doc-x").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.AppendAttachments(context.Background(), "doc-x", []Attachment{{ID: "att-1", BlobKey: "k"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetAttachmentTexts(t *testing.T) {
	t.Run("updates entries then rebuilds in seq order", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM documents WHERE id = $1 FOR UPDATE")).
			WithArgs("doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
		mock.ExpectExec("UPDATE document_texts SET body").
			WithArgs("doc-1", "att-1", "quarterly report").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE document_texts SET body").
			WithArgs("doc-1", "att-2", "annex").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("string_agg\\(body, E'\\\\n\\\\n' ORDER BY seq\\)").
			WithArgs("doc-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		texts := map[string]string{"att-2": "annex", "att-1": "quarterly report"}
		if err := repo.SetAttachmentTexts(context.Background(), "doc-1", texts); err != nil {
			t.Fatalf("SetAttachmentTexts: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("ExpectationsWereMet: %v", err)
		}
	})

	t.Run("empty map skips the store", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		if err := repo.SetAttachmentTexts(context.Background(), "doc-1", nil); err != nil {
			t.Fatalf("SetAttachmentTexts: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("ExpectationsWereMet: %v", err)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("doc-x").WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()
		err := repo.SetAttachmentTexts(context.Background(), "doc-x", map[string]string{"att-1": "text"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("ExpectationsWereMet: %v", err)
		}
	})
}

func TestPGRepoRemoveAttachment(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("WITH removed AS").
		WithArgs("doc-1", "att-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WITH removed AS").
		WithArgs("doc-1", "att-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RemoveAttachment(context.Background(), "doc-1", "att-1"); err != nil {
		t.Fatalf("RemoveAttachment: %v", err)
	}
	if err := repo.RemoveAttachment(context.Background(), "doc-1", "att-9"); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFindByBlobKeyMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("WHERE a.blob_key = \\$1").WithArgs("documents/1-gone.pdf").WillReturnError(sql.ErrNoRows)

	if _, _, err := repo.FindByBlobKey(context.Background(), "documents/1-gone.pdf"); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
}

func TestBuildSearchQueryEscapesPatterns(t *testing.T) {
	query, args := buildSearchQuery([]string{"100%", "a_b"}, 50)

	if !strings.Contains(query, "lower(title) LIKE $1 OR lower(full_text) LIKE $1 OR lower(title) LIKE $2") {
		t.Fatalf("unexpected query: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT $4") {
		t.Fatalf("expected limit placeholder, got %s", query)
	}
	want := []any{`%100\%%`, `%a\_b%`, "100% a_b", 50}
	if len(args) != len(want) {
		t.Fatalf("unexpected args %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildSearchQueryOrdersByRelevanceBeforeLimit(t *testing.T) {
	query, _ := buildSearchQuery([]string{"quarterly", "report"}, 200)

	order := query[strings.Index(query, "ORDER BY"):]
	want := "ORDER BY (lower(btrim(title)) = $3) DESC, " +
		"((lower(title) LIKE $1)::int + (lower(title) LIKE $2)::int) DESC, " +
		"((lower(full_text) LIKE $1)::int + (lower(full_text) LIKE $2)::int) DESC, " +
		"updated_at DESC, id ASC LIMIT $4"
	if order != want {
		t.Fatalf("unexpected ordering:\n got %s\nwant %s", order, want)
	}
}
