package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// SanitizeName replaces every character outside [A-Za-z0-9.] with '_'
func SanitizeName(name string) string {
	if name == "" {
		return "audio"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// UploadDir receives incoming audio. In local storage mode it is also the
// directory served under /uploads.
type UploadDir struct {
	path string
	now  func() time.Time
}

// NewUploadDir creates the directory if necessary
func NewUploadDir(path string) (*UploadDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to make upload dir %q absolute: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %q: %w", abs, err)
	}
	return &UploadDir{path: abs, now: time.Now}, nil
}

// Path returns the absolute directory path
func (d *UploadDir) Path() string {
	return d.path
}

// Save copies r into a fresh timestamp-qualified slot. Concurrent uploads of
// the same name never share a slot.
func (d *UploadDir) Save(originalName, contentType string, r io.Reader) (*TempFile, error) {
	sanitized := SanitizeName(originalName)
	millis := d.now().UnixMilli()

	name := fmt.Sprintf("%d_%s", millis, sanitized)
	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		name = fmt.Sprintf("%d_%s_%s", millis, uuid.NewString()[:8], sanitized)
		f, err = os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create upload slot: %w", err)
	}

	path := f.Name()
	size, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	return &TempFile{
		path:         path,
		name:         name,
		originalName: originalName,
		contentType:  contentType,
		size:         size,
	}, nil
}

// TempFile is a received upload on local disk. Release deletes it at most
// once no matter how many times it is called.
type TempFile struct {
	path         string
	name         string
	originalName string
	contentType  string
	size         int64

	once     sync.Once
	released atomic.Bool
}

// Path returns the absolute file path
func (t *TempFile) Path() string { return t.path }

// Name returns the slot name, which doubles as the storage key
func (t *TempFile) Name() string { return t.name }

// OriginalName returns the client-supplied file name
func (t *TempFile) OriginalName() string { return t.originalName }

// ContentType returns the client-declared MIME type
func (t *TempFile) ContentType() string { return t.contentType }

// Size returns the number of bytes written
func (t *TempFile) Size() int64 { return t.size }

// Open opens the file for reading
func (t *TempFile) Open() (*os.File, error) {
	return os.Open(t.path)
}

// Release deletes the file. Only the first call touches the filesystem.
func (t *TempFile) Release() error {
	var err error
	t.once.Do(func() {
		t.released.Store(true)
		if rmErr := os.Remove(t.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
	})
	return err
}

// Released reports whether Release has been called
func (t *TempFile) Released() bool {
	return t.released.Load()
}
