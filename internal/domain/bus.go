package domain

import "context"

// StreamMessage is a single durable bus message with its stream position.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus distributes serialized ledger events to out-of-process consumers:
// ephemeral pub/sub for live subscribers plus a capped durable stream for
// catch-up reads.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}
