package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

// exportLimit caps the rows pulled for one monthly export.
const exportLimit = 10_000

// Exports above multipartThreshold go through the multipart uploader
// instead of a single PutObject call.
const (
	multipartThreshold = 8 << 20
	exportPartSize     = 5 << 20
)

// SettledTradeSource is the slice of the trade store the archiver reads.
// The Postgres TradeStore satisfies it implicitly.
type SettledTradeSource interface {
	ListSettledBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.ArbitrageTrade, error)
}

// InactivePairSource is the slice of the pair store the archiver reads.
type InactivePairSource interface {
	ListDeactivatedBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.MatchedPair, error)
}

// Archiver exports closed-out rows to object storage as monthly JSONL
// files, one object per record kind:
//
//	archive/trades/2026-07.jsonl
//	archive/pairs/2026-07.jsonl
//
// Rows are only copied. The database keeps every trade and pair as the
// audit trail, so re-running a month overwrites the same object with the
// same content.
type Archiver struct {
	writer domain.BlobWriter
	trades SettledTradeSource
	pairs  InactivePairSource
	audit  domain.AuditStore
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver wires an Archiver. The audit store may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	trades SettledTradeSource,
	pairs InactivePairSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		trades: trades,
		pairs:  pairs,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettledTrades exports trades settled during the given month and
// returns how many rows were written. A month with no settled trades
// uploads nothing.
func (a *Archiver) ArchiveSettledTrades(ctx context.Context, month time.Time) (int64, error) {
	from, to := monthBounds(month)
	trades, err := a.trades.ListSettledBetween(ctx, from, to, exportLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal trades: %w", err)
	}
	path := archivePath("trades", month)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	count := int64(len(trades))
	a.writeAudit(ctx, "trades_archived", map[string]any{
		"path":  path,
		"count": count,
		"month": month.Format("2006-01"),
	})
	a.logger.InfoContext(ctx, "settled trades exported",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// ArchiveInactivePairs exports pairs deactivated during the given month and
// returns how many rows were written.
func (a *Archiver) ArchiveInactivePairs(ctx context.Context, month time.Time) (int64, error) {
	from, to := monthBounds(month)
	pairs, err := a.pairs.ListDeactivatedBetween(ctx, from, to, exportLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list deactivated pairs: %w", err)
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(pairs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal pairs: %w", err)
	}
	path := archivePath("pairs", month)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, err
	}

	count := int64(len(pairs))
	a.writeAudit(ctx, "pairs_archived", map[string]any{
		"path":  path,
		"count": count,
		"month": month.Format("2006-01"),
	})
	a.logger.InfoContext(ctx, "inactive pairs exported",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// upload writes one export object, switching to multipart for large bodies.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), exportPartSize); err != nil {
			return fmt.Errorf("s3blob: multipart export %s: %w", path, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: export %s: %w", path, err)
	}
	return nil
}

func (a *Archiver) writeAudit(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath builds the object key for one export, partitioned by month.
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// monthBounds returns [first of month, first of next month) in UTC.
func monthBounds(month time.Time) (time.Time, time.Time) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
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
