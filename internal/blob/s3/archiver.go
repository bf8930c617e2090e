package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantari/tradecore/internal/domain"
)

// archiveContentType marks archive objects as newline-delimited JSON.
const archiveContentType = "application/x-ndjson"

// multipartThreshold is the payload size at which an archive upload
// switches from a single PutObject to the multipart manager.
const multipartThreshold = 8 << 20

// Narrow store interfaces required by the archiver. It only needs the
// time-ranged read methods, not the full domain stores; the Postgres stores
// satisfy these implicitly.

// OrderArchiveSource provides read access to settled orders.
type OrderArchiveSource interface {
	ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)
}

// PositionArchiveSource provides read access to settled positions.
type PositionArchiveSource interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Position, error)
}

// AuditArchiveSource provides read access to historical audit entries.
type AuditArchiveSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for settled
// records, serializing them to JSONL, and uploading the result to object
// storage under a month-partitioned key.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is the archive service's explicit follow-up step
// once the upload has succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	orders    OrderArchiveSource
	positions PositionArchiveSource
	audit     AuditArchiveSource

	// now is swappable for deterministic tests.
	now func() time.Time
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	orders OrderArchiveSource,
	positions PositionArchiveSource,
	audit AuditArchiveSource,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		orders:    orders,
		positions: positions,
		audit:     audit,
		now:       time.Now,
	}
}

// ArchiveOrders uploads every settled order older than the cutoff as one
// JSONL object and returns the number of records written. A cutoff with no
// matching records uploads nothing and returns zero.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListTerminalBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	if err := a.upload(ctx, a.archivePath("orders", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	return int64(len(orders)), nil
}

// ArchivePositions uploads every settled position older than the cutoff as
// one JSONL object and returns the number of records written.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	if err := a.upload(ctx, a.archivePath("positions", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	return int64(len(positions)), nil
}

// ArchiveAudit uploads every audit entry older than the cutoff as one JSONL
// object and returns the number of records written.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	if err := a.upload(ctx, a.archivePath("audit", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// upload pushes one serialized batch to object storage, switching to the
// multipart path once the payload crosses the threshold.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archiveContentType, minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
}

// archivePath builds the object key for an archive file: partitioned by the
// year-month of the cutoff, with a per-run timestamp so repeated sweeps in
// the same month never clobber each other.
//
//	archive/orders/2025-08/20250825T120000Z.jsonl
func (a *ArchiveImpl) archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.Format("2006-01"), a.now().UTC().Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
