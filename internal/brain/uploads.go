package brain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxUploadSize bounds one uploaded artefact.
const MaxUploadSize = 10 << 20

// ErrUploadTooLarge is returned when an artefact exceeds MaxUploadSize.
var ErrUploadTooLarge = errors.New("brain: upload exceeds size limit")

// Uploads stores artefacts posted by the arms under one directory.
type Uploads struct {
	dir string
}

// NewUploads creates dir if needed.
func NewUploads(dir string) (*Uploads, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &Uploads{dir: dir}, nil
}

// Dir returns the storage directory.
func (u *Uploads) Dir() string {
	return u.dir
}

// Save writes r to a new file named by a uuid plus the extension of
// filename, and returns the stored name. Partial files are removed.
func (u *Uploads) Save(filename string, r io.Reader) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(u.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating artefact: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, MaxUploadSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxUploadSize {
		err = ErrUploadTooLarge
	}
	if err != nil {
		os.Remove(path) //nolint:errcheck // best effort cleanup
		return "", err
	}
	return name, nil
}
