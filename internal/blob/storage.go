// Package blob stores uploaded media objects in a local directory, MinIO or
// Google Cloud Storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"framez/internal/config"
)

// ErrNotFound is returned by Get and Delete for a missing object.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the bucket.
var ErrInvalidKey = errors.New("invalid object key")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Backend() string
}

// New builds the backend selected by BLOB_BACKEND.
func New(ctx context.Context, cfg *config.Config) (ObjectStorage, error) {
	switch cfg.BlobBackend {
	case "local", "":
		return NewLocalStorage(cfg.BlobLocalDir, cfg.BlobBucket)
	case "minio":
		return NewMinioClient(MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.BlobBucket,
		})
	case "gcs":
		return NewGCSClient(ctx, GCSConfig{
			Bucket:          cfg.BlobBucket,
			ProjectID:       cfg.GCSProjectID,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// CleanKey normalizes an object key and rejects keys that could escape the bucket.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") || strings.ContainsRune(key, 0) {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(strings.Trim(key, "/"), "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", ErrInvalidKey
		}
	}
	return path.Clean(strings.TrimPrefix(key, "/")), nil
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PublicURL is the permanent fetch URL for key.
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/media/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL reverses PublicURL. ok is false for URLs served elsewhere.
func KeyFromURL(baseURL, url string) (key string, ok bool) {
	prefix := strings.TrimRight(baseURL, "/") + "/media/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key, err := CleanKey(strings.TrimPrefix(url, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}
