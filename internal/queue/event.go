package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Orphan kinds.
const (
	KindOrphanBlob     = "orphan_blob"
	KindOrphanMetadata = "orphan_metadata"
)

// EventVersion is the current OrphanEvent schema version.
const EventVersion = 1

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("invalid orphan event")

// OrphanEvent reports a blob/metadata inconsistency left behind by a failed
// write so that a sweeper can reconcile it.
type OrphanEvent struct {
	Kind          string    `json:"kind"`
	DocumentID    string    `json:"documentId"`
	AttachmentIDs []string  `json:"attachmentIds,omitempty"`
	BlobKeys      []string  `json:"blobKeys"`
	Reason        string    `json:"reason"`
	RequestID     string    `json:"requestId,omitempty"`
	DetectedAt    time.Time `json:"detectedAt"`
	Version       int       `json:"version"`
}

// Validate checks the fields a sweeper relies on.
func (e OrphanEvent) Validate() error {
	switch e.Kind {
	case KindOrphanBlob, KindOrphanMetadata:
	default:
		return ErrInvalidEvent
	}
	if len(e.BlobKeys) == 0 {
		return ErrInvalidEvent
	}
	for _, k := range e.BlobKeys {
		if strings.TrimSpace(k) == "" {
			return ErrInvalidEvent
		}
	}
	if e.Kind == KindOrphanMetadata && strings.TrimSpace(e.DocumentID) == "" {
		return ErrInvalidEvent
	}
	return nil
}

// EncodeEvent returns the JSON representation of an event.
func EncodeEvent(ev OrphanEvent) ([]byte, error) {
	if ev.Version == 0 {
		ev.Version = EventVersion
	}
	return json.Marshal(ev)
}

// DecodeEvent parses a JSON payload into an OrphanEvent.
func DecodeEvent(payload []byte) (OrphanEvent, error) {
	var ev OrphanEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return OrphanEvent{}, err
	}
	return ev, nil
}
