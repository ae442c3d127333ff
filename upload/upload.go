package upload

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrUpload marks a failed object storage write. Submissions cannot
// continue without an image reference.
var ErrUpload = errors.New("image upload failed")

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// objectWriter is the part of a bucket the uploader writes through.
type objectWriter interface {
	write(ctx context.Context, name, contentType string, data []byte) error
}

type gcsBucket struct {
	handle *gcs.BucketHandle
}

func (b gcsBucket) write(ctx context.Context, name, contentType string, data []byte) error {
	w := b.handle.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// BucketUploader writes reports into folder/ of one storage bucket.
type BucketUploader struct {
	bucket     objectWriter
	bucketName string
	folder     string
	timeout    time.Duration
}

func NewBucketUploader(handle *gcs.BucketHandle, bucketName, folder string, timeout time.Duration) *BucketUploader {
	return &BucketUploader{
		bucket:     gcsBucket{handle: handle},
		bucketName: bucketName,
		folder:     strings.Trim(folder, "/"),
		timeout:    timeout,
	}
}

// Upload makes a single bounded attempt.
func (u *BucketUploader) Upload(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.Wrap(ErrUpload, "empty image")
	}
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	contentType := http.DetectContentType(data)
	name := path.Join(u.folder, uuid.NewString()+extension(contentType))
	if err := u.bucket.write(ctx, name, contentType, data); err != nil {
		return "", errors.Wrapf(ErrUpload, "write %s: %v", name, err)
	}
	return PublicURL(u.bucketName, name), nil
}

// PublicURL is the storage.googleapis.com address of an object.
func PublicURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, name)
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ""
}
