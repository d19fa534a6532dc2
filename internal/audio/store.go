// Package audio receives uploaded recordings and hands them to a durable
// backend: the local upload directory or an S3 bucket.
package audio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yegors/oasis-scribe/internal/config"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// ErrNotConfigured is returned when a backend lacks required settings
var ErrNotConfigured = errors.New("audio: storage backend not configured")

// ErrInvalidKey is returned for keys that cannot name a stored object
var ErrInvalidKey = errors.New("audio: invalid key")

// Store persists audio and turns keys into playable URLs. Keys are opaque
// to callers and never URLs themselves.
type Store interface {
	// Kind names the backend for logs and metrics
	Kind() string
	// Put makes the upload durable and returns its key
	Put(ctx context.Context, upload *TempFile) (string, error)
	// Resolve returns a URL for the key, freshly signed where applicable
	Resolve(ctx context.Context, key string) (string, error)
	// KeepsSource reports whether the upload file itself is the durable copy
	KeepsSource() bool
}

// NewStore builds the backend chosen by the resolved configuration
func NewStore(backend config.StorageBackend, uploads *UploadDir, logger *logger.Logger) (Store, error) {
	switch backend.Kind {
	case config.StorageRemote:
		if backend.Remote == nil {
			return nil, ErrNotConfigured
		}
		return NewS3Store(*backend.Remote, logger)
	case config.StorageLocal:
		if backend.Local == nil {
			return nil, ErrNotConfigured
		}
		return NewLocalStore(uploads, backend.Local.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend.Kind)
	}
}

// LocalStore leaves uploads where they landed and relies on the static
// /uploads route to serve them.
type LocalStore struct {
	uploads *UploadDir
	baseURL string
	logger  *logger.Logger
}

// NewLocalStore creates a local store serving files under baseURL
func NewLocalStore(uploads *UploadDir, baseURL string, logger *logger.Logger) *LocalStore {
	return &LocalStore{
		uploads: uploads,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("local-store"),
	}
}

// Kind implements Store
func (s *LocalStore) Kind() string { return string(config.StorageLocal) }

// KeepsSource implements Store
func (s *LocalStore) KeepsSource() bool { return true }

// Put verifies the upload sits in the served directory and returns its slot name
func (s *LocalStore) Put(ctx context.Context, upload *TempFile) (string, error) {
	if filepath.Dir(upload.Path()) != s.uploads.Path() {
		return "", fmt.Errorf("upload %s is outside %s", upload.Path(), s.uploads.Path())
	}
	if _, err := os.Stat(upload.Path()); err != nil {
		return "", fmt.Errorf("failed to stat upload: %w", err)
	}
	return upload.Name(), nil
}

// Resolve composes the public base URL with the key
func (s *LocalStore) Resolve(ctx context.Context, key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	return s.baseURL + "/" + url.PathEscape(key), nil
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}
