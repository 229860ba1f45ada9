package workerproc

import (
	"context"
	"errors"
	"strings"

	"docvault-backend/internal/queue"
	"docvault-backend/internal/reconcile"
	"docvault-backend/internal/shared/util"
)

// Reconciler settles one orphan event.
type Reconciler interface {
	Handle(ctx context.Context, ev queue.OrphanEvent) (reconcile.Outcome, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	return MessageMeta{BodyLen: len(body), BodySHA: util.SHA256Hex([]byte(body))}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalid indicates a decoded event that fails validation. Redelivery
// cannot fix it.
type ErrInvalid struct {
	Meta      MessageMeta
	Kind      string
	RequestID string
}

func (e ErrInvalid) Error() string { return "invalid orphan event kind=" + e.Kind }

func (e ErrInvalid) Unwrap() error { return queue.ErrInvalidEvent }

// ErrProcess indicates reconciliation failed after successful parsing.
type ErrProcess struct {
	Kind       string
	DocumentID string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "reconcile orphan"
	}
	return "reconcile orphan: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message should be dropped
// rather than retried.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		invalid ErrInvalid
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &invalid)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.OrphanEvent, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.OrphanEvent{}, meta, ErrEmptyBody{Meta: meta}
	}

	ev, err := queue.DecodeEvent([]byte(body))
	if err != nil {
		return queue.OrphanEvent{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := ev.Validate(); err != nil {
		return ev, meta, ErrInvalid{Meta: meta, Kind: ev.Kind, RequestID: ev.RequestID}
	}
	return ev, meta, nil
}

type parsedEventKey struct{}

// WithParsedEvent stores a decoded event in the context for reuse.
func WithParsedEvent(ctx context.Context, ev queue.OrphanEvent) context.Context {
	return context.WithValue(ctx, parsedEventKey{}, ev)
}

func parsedEventFromContext(ctx context.Context) (queue.OrphanEvent, bool) {
	if ctx == nil {
		return queue.OrphanEvent{}, false
	}
	ev, ok := ctx.Value(parsedEventKey{}).(queue.OrphanEvent)
	return ev, ok
}

// HandleMessage parses, validates, and reconciles a message payload.
func HandleMessage(ctx context.Context, r Reconciler, body string) (reconcile.Outcome, error) {
	if r == nil {
		return reconcile.Outcome{}, errors.New("reconciler not configured")
	}

	ev, ok := parsedEventFromContext(ctx)
	if !ok {
		var err error
		ev, _, err = ParseMessage(body)
		if err != nil {
			return reconcile.Outcome{}, err
		}
	}

	out, err := r.Handle(ctx, ev)
	if err != nil {
		return out, ErrProcess{Kind: ev.Kind, DocumentID: ev.DocumentID, RequestID: ev.RequestID, Err: err}
	}
	return out, nil
}
