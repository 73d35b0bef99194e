package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"framez/internal/blob"
	"framez/internal/featureflags"
	"framez/internal/media"
	"framez/internal/models"
	"framez/internal/observability"
)

// MediaService stores post images under posts/{uid}/ and serves them back.
type MediaService struct {
	store    blob.ObjectStorage
	flags    *featureflags.Manager
	baseURL  string
	maxBytes int64
}

type UploadMediaInput struct {
	UserID      string
	Key         string
	ContentType string
	Content     []byte
}

// UploadMediaResult describes the stored object. WebPURL is set when a WebP
// sibling was written as well.
type UploadMediaResult struct {
	URL     string `json:"url"`
	Key     string `json:"key"`
	WebPURL string `json:"webpUrl,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Size    int    `json:"size"`
}

func NewMediaService(store blob.ObjectStorage, flags *featureflags.Manager, baseURL string, maxBytes int64) *MediaService {
	return &MediaService{
		store:    store,
		flags:    flags,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}
}

// UserPrefix is the only folder a user may upload into.
func UserPrefix(userID string) string {
	return "posts/" + userID + "/"
}

// Upload normalizes the image and stores it as JPEG. The stored key keeps the
// requested name with its extension replaced by .jpg.
func (s *MediaService) Upload(ctx context.Context, in UploadMediaInput) (*UploadMediaResult, error) {
	span, ctx := observability.StartServiceSpan(ctx, "MediaService", "Upload")
	defer span.End()

	if in.UserID == "" {
		return nil, models.NewAuthRequiredError("You must be signed in to upload")
	}
	key, err := blob.CleanKey(in.Key)
	if err != nil {
		return nil, models.NewUploadError("Invalid upload path", err)
	}
	if !strings.HasPrefix(key, UserPrefix(in.UserID)) || len(key) == len(UserPrefix(in.UserID)) {
		return nil, models.NewUploadError("Uploads must go under "+UserPrefix(in.UserID), nil)
	}
	if s.maxBytes > 0 && int64(len(in.Content)) > s.maxBytes {
		return nil, models.NewUploadError("File too large", nil)
	}

	result, err := media.Normalize(in.Content, in.ContentType, media.Options{
		WebP: s.flags.Enabled(featureflags.MediaWebP, in.UserID),
	})
	if err != nil {
		return nil, models.NewUploadError("Invalid image", err)
	}

	base := strings.TrimSuffix(key, path.Ext(key))
	jpegKey := base + ".jpg"
	if err := s.put(ctx, jpegKey, result.JPEG, "image/jpeg"); err != nil {
		span.SetError(err)
		return nil, models.NewUploadError("Failed to store image", err)
	}

	out := &UploadMediaResult{
		URL:    blob.PublicURL(s.baseURL, jpegKey),
		Key:    jpegKey,
		Width:  result.Width,
		Height: result.Height,
		Size:   len(result.JPEG),
	}
	if len(result.WebP) > 0 {
		webpKey := base + ".webp"
		if err := s.put(ctx, webpKey, result.WebP, "image/webp"); err != nil {
			// JPEG is canonical, the sibling is optional.
			observability.GlobalLogger.WarnContext(ctx, "failed to store webp sibling", "key", webpKey, "error", err.Error())
		} else {
			out.WebPURL = blob.PublicURL(s.baseURL, webpKey)
		}
	}
	return out, nil
}

func (s *MediaService) put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return err
	}
	observability.MediaUploadBytes.WithLabelValues(s.store.Backend()).Observe(float64(len(data)))
	return nil
}

// Open returns the stored object and its content type. The caller closes it.
func (s *MediaService) Open(ctx context.Context, rawKey string) (io.ReadCloser, string, error) {
	key, err := blob.CleanKey(rawKey)
	if err != nil {
		return nil, "", models.NewNotFoundError("Media", rawKey)
	}
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, "", models.NewNotFoundError("Media", key)
		}
		return nil, "", models.NewInternalError(err)
	}
	return rc, blob.ContentTypeFor(key), nil
}

// DeleteByURL removes an image served by this API and its WebP sibling.
// URLs served elsewhere are ignored.
func (s *MediaService) DeleteByURL(ctx context.Context, url string) error {
	key, ok := blob.KeyFromURL(s.baseURL, url)
	if !ok {
		return nil
	}
	base := strings.TrimSuffix(key, path.Ext(key))
	for _, k := range []string{key, base + ".webp"} {
		if err := s.store.Delete(ctx, k); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return err
		}
	}
	return nil
}
