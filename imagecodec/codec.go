package imagecodec

import (
	"bytes"
	"encoding/base64"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// webp uploads come from some Android clients
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used for model input and archived annotated images.
const DefaultJPEGQuality = 90

// ErrInvalidImage reports a payload that is not a decodable picture.
var ErrInvalidImage = errors.New("invalid image format")

// StripDataURI drops a "data:image/...;base64," prefix if present.
func StripDataURI(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DecodeBase64 strips any data URI prefix and decodes the payload.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(StripDataURI(s))
	if s == "" {
		return nil, errors.Wrap(ErrInvalidImage, "empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, errors.Wrapf(ErrInvalidImage, "base64: %v", err)
	}
	return data, nil
}

// Decode turns compressed bytes into a pixel buffer, applying EXIF orientation
// so boxes line up with what the reporter saw.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidImage, "decode: %v", err)
	}
	return img, nil
}

// EncodeJPEG compresses img.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// Frame is one decoded picture. The JPEG encoding sent to each model is
// computed once and shared.
type Frame struct {
	Image image.Image

	once    sync.Once
	encoded []byte
	encErr  error
}

func NewFrame(img image.Image) *Frame {
	return &Frame{Image: img}
}

// DecodeFrame decodes a base64 payload straight into a Frame.
func DecodeFrame(payload string) (*Frame, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return NewFrame(img), nil
}

// JPEG returns the memoised JPEG encoding of the frame.
func (f *Frame) JPEG() ([]byte, error) {
	f.once.Do(func() {
		f.encoded, f.encErr = EncodeJPEG(f.Image, DefaultJPEGQuality)
	})
	return f.encoded, f.encErr
}

func (f *Frame) Bounds() image.Rectangle {
	return f.Image.Bounds()
}
