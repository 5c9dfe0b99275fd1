package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the S3 lower bound for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// jsonlContentType is the media type of statement files.
const jsonlContentType = "application/x-ndjson"

// immutable marks statement objects as never changing once written.
const immutable = "public, max-age=31536000, immutable"

// Writer implements domain.BlobWriter on the statement bucket.
type Writer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
	}
}

// Put uploads data with one PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager in parts of
// partSize, raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	_, err := w.uploader.Upload(ctx, w.input(path, data, jsonlContentType), func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	if contentType == "" {
		contentType = jsonlContentType
	}
	return &s3.PutObjectInput{
		Bucket:       aws.String(w.bucket),
		Key:          aws.String(path),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(immutable),
	}
}
