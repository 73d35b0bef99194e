// Package uploader pushes local images to the blob store for new posts.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"framez/internal/models"
	"framez/internal/provider"
)

// Identity supplies the user whose prefix uploads are written under.
type Identity interface {
	User() *provider.User
}

// Uploader streams files to a BlobStore. It never retries.
type Uploader struct {
	blobs provider.BlobStore
	ident Identity
	now   func() time.Time
	log   *slog.Logger
}

// New creates an uploader. A nil logger uses slog.Default.
func New(blobs provider.BlobStore, ident Identity, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		blobs: blobs,
		ident: ident,
		now:   time.Now,
		log:   logger.With("component", "uploader"),
	}
}

// ObjectPath is where a file picked at t is stored for uid.
func ObjectPath(uid string, t time.Time, localPath string) string {
	return fmt.Sprintf("posts/%s/%d%s", uid, t.UnixMilli(), strings.ToLower(filepath.Ext(localPath)))
}

// Upload sends localPath and returns its durable URL. onProgress, when set,
// receives non-decreasing percentages and a final 100 before Upload returns.
// Every failure is an UploadError.
func (u *Uploader) Upload(ctx context.Context, localPath string, onProgress func(int)) (string, error) {
	user := u.ident.User()
	if user == nil {
		return "", models.NewUploadError("Please sign in to upload images", nil)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", models.NewUploadError("Could not read image", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", models.NewUploadError("Could not read image", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return "", models.NewUploadError("Image file is empty", nil)
	}

	p := &progress{fn: onProgress, last: -1}
	p.report(0)

	path := ObjectPath(user.UID, u.now(), localPath)
	url, err := u.blobs.PutBytes(ctx, path, f, info.Size(), func(sent, total int64) {
		if total <= 0 {
			return
		}
		// 100 is held back until the store has returned the URL.
		p.report(min(int(sent*100/total), 99))
	})
	if err != nil {
		u.log.Warn("Upload failed", "path", path, "error", err)
		if models.HasCode(err, models.CodeUpload) {
			return "", err
		}
		return "", models.NewUploadError("Upload failed", err)
	}

	p.report(100)
	u.log.Info("Upload complete", "path", path, "bytes", info.Size())
	return url, nil
}

type progress struct {
	mu   sync.Mutex
	fn   func(int)
	last int
}

func (p *progress) report(pct int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}
