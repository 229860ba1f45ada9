package documents

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	blobKeys map[string]string // blobKey -> documentID
	texts    map[string][]extractedText
	now      func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		docs:     make(map[string]*Document),
		blobKeys: make(map[string]string),
		texts:    make(map[string][]extractedText),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new document.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return ErrInvalidInput
	}
	stored := cloneDocument(doc)
	r.docs[doc.ID] = &stored
	var entries []extractedText
	if doc.FullText != "" {
		entries = append(entries, extractedText{Text: doc.FullText})
	}
	for _, a := range doc.Attachments {
		r.blobKeys[a.BlobKey] = doc.ID
		entries = append(entries, extractedText{AttachmentID: a.ID})
	}
	r.texts[doc.ID] = entries
	return nil
}

// GetByID returns a copy of the document.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(*doc), nil
}

// List returns documents newest first, honoring limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	docs := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, Document{ID: d.ID, Title: d.Title, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// AppendAttachments appends atts to the document under the write lock.
func (r *MemoryRepo) AppendAttachments(ctx context.Context, documentID string, atts []Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	seen := make(map[string]struct{}, len(atts))
	for _, a := range atts {
		if _, taken := r.blobKeys[a.BlobKey]; taken {
			return ErrDuplicateBlobKey
		}
		if _, dup := seen[a.BlobKey]; dup {
			return ErrDuplicateBlobKey
		}
		seen[a.BlobKey] = struct{}{}
	}
	for _, a := range atts {
		r.blobKeys[a.BlobKey] = documentID
		r.texts[documentID] = append(r.texts[documentID], extractedText{AttachmentID: a.ID})
	}
	doc.Attachments = append(doc.Attachments, atts...)
	doc.UpdatedAt = r.now()
	return nil
}

// SetAttachmentTexts fills the text entries and rebuilds FullText from them.
func (r *MemoryRepo) SetAttachmentTexts(ctx context.Context, documentID string, texts map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(texts) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	entries := r.texts[documentID]
	for i := range entries {
		if entries[i].AttachmentID == "" {
			continue
		}
		if text, ok := texts[entries[i].AttachmentID]; ok {
			entries[i].Text = text
		}
	}
	doc.FullText = joinExtracted(entries)
	doc.UpdatedAt = r.now()
	return nil
}

// RemoveAttachment drops the attachment entry. FullText is left as is.
func (r *MemoryRepo) RemoveAttachment(ctx context.Context, documentID, attachmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	for i, a := range doc.Attachments {
		if a.ID != attachmentID {
			continue
		}
		delete(r.blobKeys, a.BlobKey)
		doc.Attachments = append(doc.Attachments[:i:i], doc.Attachments[i+1:]...)
		doc.UpdatedAt = r.now()
		return nil
	}
	return ErrAttachmentNotFound
}

// FindByBlobKey locates the attachment referencing blobKey.
func (r *MemoryRepo) FindByBlobKey(ctx context.Context, blobKey string) (Document, Attachment, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, Attachment{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	docID, ok := r.blobKeys[blobKey]
	if !ok {
		return Document{}, Attachment{}, ErrAttachmentNotFound
	}
	doc := r.docs[docID]
	for _, a := range doc.Attachments {
		if a.BlobKey == blobKey {
			return cloneDocument(*doc), a, nil
		}
	}
	return Document{}, Attachment{}, ErrAttachmentNotFound
}

// SearchCandidates scans every document for any of terms.
func (r *MemoryRepo) SearchCandidates(ctx context.Context, terms []string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Document, 0)
	for _, d := range r.docs {
		title := strings.ToLower(d.Title)
		text := strings.ToLower(d.FullText)
		for _, term := range terms {
			if strings.Contains(title, term) || strings.Contains(text, term) {
				out = append(out, Document{ID: d.ID, Title: d.Title, FullText: d.FullText, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
				break
			}
		}
	}
	r.mu.RUnlock()

	sortCandidates(out, terms)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
