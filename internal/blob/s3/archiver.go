package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the time-ranged query,
// not the full domain store surface.

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades executed strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// EventArchiveStore provides read access to the event journal for archival
// purposes.
type EventArchiveStore interface {
	// ListBefore returns all events emitted strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

// ArchiveImpl implements domain.Archiver by querying the history stores for
// aged records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; the caller removes rows only after the upload has
// succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	events EventArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, events EventArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		events: events,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/trades/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// ArchiveEvents queries all journal events before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/events/YYYY-MM.jsonl.
// The count of archived records is returned.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/events/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
