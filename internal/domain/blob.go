package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is the listing metadata for one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects. PutMultipart is for exports too large to
// buffer; partSize tunes the chunking.
type BlobWriter interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, body io.Reader, partSize int64) error
}

// BlobReader serves stored objects back out, primarily to the archive
// download endpoints.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies closed-out rows to cold storage. Rows are exported, not
// deleted: pairs and trades stay in the database as the audit trail.
type Archiver interface {
	ArchiveSettledTrades(ctx context.Context, month time.Time) (int64, error)
	ArchiveInactivePairs(ctx context.Context, month time.Time) (int64, error)
}
