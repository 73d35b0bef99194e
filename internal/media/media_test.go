package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"framez/internal/testutil"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FitsInsideMaxDimension(t *testing.T) {
	content := testutil.TinyPNG(t, 4096, 1024)

	res, err := Normalize(content, "image/png", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2048, res.Width)
	assert.Equal(t, 512, res.Height)
	assert.Equal(t, "image/png", res.Source)
	assert.Nil(t, res.WebP)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestNormalize_KeepsSmallImages(t *testing.T) {
	res, err := Normalize(testutil.TinyJPEG(t, 640, 480), "", Options{})
	require.NoError(t, err)
	assert.Equal(t, 640, res.Width)
	assert.Equal(t, 480, res.Height)
}

func TestNormalize_WebPSibling(t *testing.T) {
	res, err := Normalize(testutil.TinyPNG(t, 100, 50), "image/png", Options{WebP: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.WebP)

	img, err := webp.Decode(bytes.NewReader(res.WebP))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		content     []byte
		contentType string
		want        error
	}{
		{"Empty", nil, "", ErrEmpty},
		{"Text", []byte("definitely not an image"), "text/plain", ErrUnsupportedType},
		{"Truncated PNG", testutil.TinyPNG(t, 10, 10)[:40], "image/png", ErrInvalidImage},
		{"Claimed JPEG", testutil.TinyPNG(t, 10, 10), "image/jpeg", ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.content, tt.contentType, Options{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestContentTypeHelpers(t *testing.T) {
	assert.Equal(t, "image/png", normalizeContentType("Image/PNG; charset=binary"))
	assert.True(t, isMatchingContentType("image/jpg", "image/jpeg"))
	assert.False(t, isMatchingContentType("image/png", "image/gif"))
	assert.Equal(t, "", decodedFormatToMime("bmp"))
}
