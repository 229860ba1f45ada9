package documents

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"docvault-backend/internal/search"
)

const (
	maxTitleLength         = 200
	searchCandidate        = 200
	defaultMetadataTimeout = 5 * time.Second
)

// SignedLink is a presigned URL for one attachment. URL is empty when Err is set.
type SignedLink struct {
	AttachmentID string
	Title        string
	URL          string
	Err          error
}

// LinkSigner issues signed URLs for a set of attachments.
type LinkSigner interface {
	SignAll(ctx context.Context, atts []Attachment) []SignedLink
}

// Service contains the metadata-only document operations.
type Service struct {
	Repo  Repo
	Links LinkSigner
	Now   func() time.Time
	// MetadataTimeout bounds each Repo call. Zero means defaultMetadataTimeout.
	MetadataTimeout time.Duration
}

func (s *Service) repoContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.MetadataTimeout
	if d <= 0 {
		d = defaultMetadataTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create stores a new empty document.
func (s *Service) Create(ctx context.Context, title string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Document{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLength)
	}

	now := s.now()
	doc := Document{
		ID:          uuid.NewString(),
		Title:       title,
		Attachments: []Attachment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repoCtx, cancel := s.repoContext(ctx)
	defer cancel()
	if err := s.Repo.Create(repoCtx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// List returns document summaries newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Document, error) {
	repoCtx, cancel := s.repoContext(ctx)
	defer cancel()
	return s.Repo.List(repoCtx, limit, offset)
}

// Get returns the document and a freshly signed URL for each attachment.
func (s *Service) Get(ctx context.Context, id string) (Document, []SignedLink, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, nil, ErrInvalidInput
	}
	repoCtx, cancel := s.repoContext(ctx)
	doc, err := s.Repo.GetByID(repoCtx, id)
	cancel()
	if err != nil {
		return Document{}, nil, err
	}
	if s.Links == nil || len(doc.Attachments) == 0 {
		return doc, []SignedLink{}, nil
	}
	return doc, s.Links.SignAll(ctx, doc.Attachments), nil
}

// Search ranks documents against query over title and extracted text.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	terms := search.Terms(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: q is required", ErrInvalidInput)
	}

	repoCtx, cancel := s.repoContext(ctx)
	candidates, err := s.Repo.SearchCandidates(repoCtx, terms, searchCandidate)
	cancel()
	if err != nil {
		return nil, err
	}

	docs := make([]search.Doc, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, search.Doc{ID: c.ID, Title: c.Title, Text: c.FullText, CreatedAt: c.CreatedAt})
	}
	return search.Rank(query, docs, limit), nil
}
