package remote

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync/atomic"

	"framez/internal/models"
	"framez/internal/provider"
)

type uploadResult struct {
	URL string `json:"url"`
}

// progressReader reports bytes handed to the transport.
type progressReader struct {
	r        io.Reader
	total    int64
	sent     atomic.Int64
	progress provider.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.progress != nil {
		p.progress(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}

func uploadErr(err error) error {
	return wrap(err, "Upload failed", models.NewUploadError, models.CodeUpload)
}

// PutBytes uploads r to path with a raw PUT and returns the public URL.
func (c *Client) PutBytes(ctx context.Context, objectPath string, r io.Reader, size int64, progress provider.ProgressFunc) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	if clean == "" || clean != objectPath {
		return "", models.NewUploadError("Invalid upload path", nil)
	}

	body := &progressReader{r: r, total: size, progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("/api/media/"+clean), body)
	if err != nil {
		return "", uploadErr(err)
	}
	req.ContentLength = size
	contentType := mime.TypeByExtension(path.Ext(clean))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	var res uploadResult
	if err := c.sendWith(c.uploads, req, &res); err != nil {
		return "", uploadErr(err)
	}
	if res.URL == "" {
		return "", models.NewUploadError("Upload returned no URL", nil)
	}
	return res.URL, nil
}
