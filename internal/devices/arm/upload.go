package arm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadField is the multipart field carrying the artefact.
const UploadField = "file"

const defaultUploadTimeout = 5 * time.Second

// ErrUploadFailed wraps non-2xx responses of the upload endpoint.
var ErrUploadFailed = errors.New("arm: upload failed")

// Uploader sends a captured artefact to the brain.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// HTTPUploader posts artefacts as multipart/form-data.
type HTTPUploader struct {
	url        string
	httpClient *http.Client
}

// NewHTTPUploader creates an uploader for url. A non-positive timeout
// falls back to 5s.
func NewHTTPUploader(url string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &HTTPUploader{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload reads path and posts it under the "file" field.
func (u *HTTPUploader) Upload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading artefact: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(UploadField, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting artefact: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}
	return nil
}
