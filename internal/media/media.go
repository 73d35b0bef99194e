// Package media normalizes uploaded images before they are stored.
package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"mime"
	"net/http"
	"strings"

	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// MaxDimension bounds both sides of a stored image.
	MaxDimension = 2048
	JPEGQuality  = 82
	WebPQuality  = 70
)

// Validation failures returned by Normalize.
var (
	ErrEmpty           = errors.New("no file uploaded")
	ErrUnsupportedType = errors.New("invalid image type")
	ErrInvalidImage    = errors.New("invalid image file")
	ErrTypeMismatch    = errors.New("image content type mismatch")
)

// Options controls which encodings Normalize produces.
type Options struct {
	WebP bool
}

// Result holds the normalized encodings.
type Result struct {
	JPEG   []byte
	WebP   []byte
	Width  int
	Height int
	Source string
}

// Normalize decodes content, fits it inside MaxDimension and re-encodes it as JPEG,
// plus WebP when requested. contentType is the client's claim and may be empty.
func Normalize(content []byte, contentType string, opts Options) (*Result, error) {
	if len(content) == 0 {
		return nil, ErrEmpty
	}

	detectedType := http.DetectContentType(content)
	if !isAllowedImageMIME(detectedType) {
		return nil, ErrUnsupportedType
	}

	decoded, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, ErrInvalidImage
	}
	sourceMimeType := decodedFormatToMime(format)
	if sourceMimeType == "" {
		return nil, ErrUnsupportedType
	}
	if provided := normalizeContentType(contentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, sourceMimeType) {
		return nil, ErrTypeMismatch
	}

	master := resizeToFit(decoded, MaxDimension, MaxDimension)
	res := &Result{
		Width:  master.Bounds().Dx(),
		Height: master.Bounds().Dy(),
		Source: sourceMimeType,
	}

	if res.JPEG, err = encodeJPEG(master, JPEGQuality); err != nil {
		return nil, err
	}
	if opts.WebP {
		if res.WebP, err = encodeWebP(master, WebPQuality); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}
