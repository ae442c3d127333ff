package imagecodec

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "abcd", StripDataURI("data:image/png;base64,abcd"))
	assert.Equal(t, "abcd", StripDataURI("abcd"))
}

func TestDecodeFrameWithDataURI(t *testing.T) {
	raw := testPNG(t, 40, 30)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	frame, err := DecodeFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), frame.Bounds())
}

func TestDecodeBase64Unpadded(t *testing.T) {
	raw := []byte("ab")
	data, err := DecodeBase64(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestInvalidPayloads(t *testing.T) {
	_, err := DecodeFrame("data:image/png;base64,!!!not-base64!!!")
	assert.True(t, errors.Is(err, ErrInvalidImage))

	_, err = DecodeFrame(base64.StdEncoding.EncodeToString([]byte("definitely not an image")))
	assert.True(t, errors.Is(err, ErrInvalidImage))

	_, err = DecodeFrame("")
	assert.True(t, errors.Is(err, ErrInvalidImage))
}

func TestFrameJPEGIsMemoised(t *testing.T) {
	img, err := Decode(testPNG(t, 16, 16))
	require.NoError(t, err)
	frame := NewFrame(img)

	first, err := frame.JPEG()
	require.NoError(t, err)
	second, err := frame.JPEG()
	require.NoError(t, err)
	assert.Equal(t, &first[0], &second[0])

	decoded, err := Decode(first)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
