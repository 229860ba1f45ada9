package queue

import "context"

// Client publishes orphan events to a queue backend.
type Client interface {
	Send(ctx context.Context, ev OrphanEvent) error
}
