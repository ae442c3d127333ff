package upload

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBucket struct {
	objects      map[string][]byte
	contentTypes map[string]string
	err          error
}

func (m *memBucket) write(ctx context.Context, name, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.objects[name] = data
	m.contentTypes[name] = contentType
	return nil
}

func newTestUploader(b *memBucket) *BucketUploader {
	return &BucketUploader{bucket: b, bucketName: "civic-bucket", folder: "civic_problem_reports"}
}

func TestUploadJPEG(t *testing.T) {
	b := &memBucket{objects: map[string][]byte{}, contentTypes: map[string]string{}}
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F', 0}

	url, err := newTestUploader(b).Upload(context.Background(), jpeg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://storage.googleapis.com/civic-bucket/civic_problem_reports/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	require.Len(t, b.objects, 1)
	for name, data := range b.objects {
		assert.Equal(t, jpeg, data)
		assert.Equal(t, "image/jpeg", b.contentTypes[name])
	}
}

func TestUploadFailures(t *testing.T) {
	b := &memBucket{err: errors.New("403 forbidden")}
	_, err := newTestUploader(b).Upload(context.Background(), []byte("data"))
	assert.True(t, errors.Is(err, ErrUpload))

	_, err = newTestUploader(&memBucket{}).Upload(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrUpload))
}
