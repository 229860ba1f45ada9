package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func (r *PGRepo) timestamp() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// Create inserts a new document row.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (id, title, full_text, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.DB.ExecContext(ctx, query, doc.ID, doc.Title, doc.FullText, doc.CreatedAt, doc.UpdatedAt)
	return err
}

// GetByID loads the document and its attachments in insertion order.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	const query = `
SELECT id, title, full_text, created_at, updated_at
FROM documents
WHERE id = $1`
	var doc Document
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Title, &doc.FullText, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}

	atts, err := r.attachments(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Attachments = atts
	return doc, nil
}

func (r *PGRepo) attachments(ctx context.Context, documentID string) ([]Attachment, error) {
	const query = `
SELECT id, owner_user_id, blob_key, title, mime_type, size_bytes, created_at
FROM document_attachments
WHERE document_id = $1
ORDER BY seq ASC`
	rows, err := r.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Attachment{}
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.OwnerUserID, &a.BlobKey, &a.Title, &a.MimeType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns documents ordered newest-first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT id, title, created_at, updated_at
FROM documents
ORDER BY created_at DESC, id ASC
LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// AppendAttachments inserts the batch inside one transaction, with an empty
// document_texts row per attachment. The document row is locked first so
// concurrent batches land contiguously in seq order.
func (r *PGRepo) AppendAttachments(ctx context.Context, documentID string, atts []Attachment) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	const insert = `
WITH att AS (
    INSERT INTO document_attachments (id, document_id, owner_user_id, blob_key, title, mime_type, size_bytes, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    RETURNING id, document_id
)
INSERT INTO document_texts (attachment_id, document_id)
SELECT id, document_id FROM att`
	for _, a := range atts {
		if _, err = tx.ExecContext(ctx, insert, a.ID, documentID, a.OwnerUserID, a.BlobKey, a.Title, a.MimeType, a.SizeBytes, a.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateBlobKey, a.BlobKey)
			}
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE documents SET updated_at = $2 WHERE id = $1`, documentID, r.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAttachmentTexts updates the document_texts rows and rebuilds full_text
// from them in one transaction, under the same row lock as AppendAttachments.
func (r *PGRepo) SetAttachmentTexts(ctx context.Context, documentID string, texts map[string]string) (err error) {
	if len(texts) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	ids := make([]string, 0, len(texts))
	for id := range texts {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx,
			`UPDATE document_texts SET body = $3 WHERE document_id = $1 AND attachment_id = $2`,
			documentID, id, texts[id]); err != nil {
			return err
		}
	}

	const rebuild = `
UPDATE documents
SET full_text = COALESCE((
        SELECT string_agg(body, E'\n\n' ORDER BY seq)
        FROM document_texts
        WHERE document_id = $1 AND body <> ''
    ), ''),
    updated_at = $2
WHERE id = $1`
	if _, err = tx.ExecContext(ctx, rebuild, documentID, r.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveAttachment deletes the attachment row and touches the document.
func (r *PGRepo) RemoveAttachment(ctx context.Context, documentID, attachmentID string) error {
	const query = `
WITH removed AS (
    DELETE FROM document_attachments
    WHERE document_id = $1 AND id = $2
    RETURNING document_id
)
UPDATE documents SET updated_at = $3
WHERE id IN (SELECT document_id FROM removed)`
	res, err := r.DB.ExecContext(ctx, query, documentID, attachmentID, r.timestamp())
	if err != nil {
		return err
	}
	return requireAffected(res, ErrAttachmentNotFound)
}

// FindByBlobKey returns the attachment referencing blobKey and its document.
// Document attachments are not loaded.
func (r *PGRepo) FindByBlobKey(ctx context.Context, blobKey string) (Document, Attachment, error) {
	const query = `
SELECT a.id, a.owner_user_id, a.blob_key, a.title, a.mime_type, a.size_bytes, a.created_at,
       d.id, d.title, d.created_at, d.updated_at
FROM document_attachments a
JOIN documents d ON d.id = a.document_id
WHERE a.blob_key = $1`
	var a Attachment
	var doc Document
	err := r.DB.QueryRowContext(ctx, query, blobKey).Scan(
		&a.ID, &a.OwnerUserID, &a.BlobKey, &a.Title, &a.MimeType, &a.SizeBytes, &a.CreatedAt,
		&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, Attachment{}, ErrAttachmentNotFound
		}
		return Document{}, Attachment{}, err
	}
	return doc, a, nil
}

// SearchCandidates filters with LIKE on the lowered columns; the trigram
// indexes from the migrations serve these predicates. The ORDER BY mirrors
// sortCandidates so the LIMIT keeps the strongest matches.
func (r *PGRepo) SearchCandidates(ctx context.Context, terms []string, limit int) ([]Document, error) {
	if len(terms) == 0 {
		return []Document{}, nil
	}
	if limit <= 0 {
		limit = 200
	}

	query, args := buildSearchQuery(terms, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.FullText, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func buildSearchQuery(terms []string, limit int) (string, []any) {
	var where, titleHits, textHits strings.Builder
	args := make([]any, 0, len(terms)+2)
	for i, term := range terms {
		if i > 0 {
			where.WriteString(" OR ")
			titleHits.WriteString(" + ")
			textHits.WriteString(" + ")
		}
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		fmt.Fprintf(&where, "lower(title) LIKE $%d OR lower(full_text) LIKE $%d", n, n)
		fmt.Fprintf(&titleHits, "(lower(title) LIKE $%d)::int", n)
		fmt.Fprintf(&textHits, "(lower(full_text) LIKE $%d)::int", n)
	}
	args = append(args, titlePhrase(terms))
	phrase := len(args)
	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT id, title, full_text, created_at, updated_at FROM documents WHERE %s"+
			" ORDER BY (lower(btrim(title)) = $%d) DESC, (%s) DESC, (%s) DESC, updated_at DESC, id ASC LIMIT $%d",
		where.String(), phrase, titleHits.String(), textHits.String(), len(args))
	return query, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(strings.ToLower(s))
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ Repo = (*PGRepo)(nil)
