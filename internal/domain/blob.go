package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads history snapshots to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged ledger history out of the primary stores into object
// storage. Each method returns the number of archived records.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
