package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oddslane/hedgebot/internal/domain"
)

// partSizeFloor is the 5 MiB minimum S3 accepts for multipart parts.
const partSizeFloor int64 = 5 << 20

// Writer implements domain.BlobWriter over the archive bucket.
type Writer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer that uploads to the client's configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
	}
}

// Put uploads body in a single PutObject request. Suitable for anything a
// monthly export produces; use PutMultipart beyond a few hundred MiB.
func (w *Writer) Put(ctx context.Context, path string, body io.Reader, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if _, err := w.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams body through the SDK upload manager, which splits it
// into parts and uploads them concurrently. Part sizes below the S3 minimum
// are clamped up to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, body io.Reader, partSize int64) error {
	if partSize < partSizeFloor {
		partSize = partSizeFloor
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   body,
	}
	_, err := w.uploader.Upload(ctx, in, func(u *manager.Uploader) { u.PartSize = partSize })
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload of %s: %w", path, err)
	}
	return nil
}
