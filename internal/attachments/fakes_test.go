package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"docvault-backend/internal/documents"
	"docvault-backend/internal/queue"
	"docvault-backend/internal/shared/storage/blob"
)

type presignCall struct {
	key string
	ttl time.Duration
	o   blob.Overrides
}

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	presigned []presignCall
	puts      int

	putErr     func(key string) error
	deleteErr  func(key string) error
	presignErr func(key string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key, _ string, r io.Reader, size int64) error {
	s.mu.Lock()
	s.puts++
	hook := s.putErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("short write %d/%d", len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	if s.deleteErr != nil {
		if err := s.deleteErr(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Presign(_ context.Context, key string, ttl time.Duration, o blob.Overrides) (string, error) {
	if s.presignErr != nil {
		if err := s.presignErr(key); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigned = append(s.presigned, presignCall{key: key, ttl: ttl, o: o})
	return "https://blobs.test/" + key + "?sig=x", nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingSink struct {
	mu     sync.Mutex
	events []queue.OrphanEvent
}

func (r *recordingSink) Report(_ context.Context, ev queue.OrphanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) all() []queue.OrphanEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.OrphanEvent(nil), r.events...)
}

// faultyRepo injects failures into selected MemoryRepo calls.
type faultyRepo struct {
	*documents.MemoryRepo
	appendErr error
	removeErr error
}

func (r *faultyRepo) AppendAttachments(ctx context.Context, documentID string, atts []documents.Attachment) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	return r.MemoryRepo.AppendAttachments(ctx, documentID, atts)
}

func (r *faultyRepo) RemoveAttachment(ctx context.Context, documentID, attachmentID string) error {
	if r.removeErr != nil {
		return r.removeErr
	}
	return r.MemoryRepo.RemoveAttachment(ctx, documentID, attachmentID)
}

func textUpload(name, contentType, body string) Upload {
	return Upload{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

// echoExtract returns the payload itself as the extracted text.
func echoExtract(_ context.Context, data []byte, _, _ string) (string, error) {
	return string(data), nil
}

type fixture struct {
	mgr   *Manager
	repo  *faultyRepo
	store *fakeStore
	sink  *recordingSink
	docID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := &faultyRepo{MemoryRepo: documents.NewMemoryRepo()}
	store := newFakeStore()
	sink := &recordingSink{}
	mgr := NewManager(repo, store, sink, Options{BlobTimeout: time.Second, MetadataTimeout: time.Second})
	mgr.Pipeline.Extract = echoExtract

	now := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
	doc := documents.Document{ID: "doc-1", Title: "Q1 Report", CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return &fixture{mgr: mgr, repo: repo, store: store, sink: sink, docID: doc.ID}
}
