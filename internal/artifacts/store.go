// Package artifacts saves generated reports (commit context, halt reports)
// to a local directory or an S3-compatible bucket.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrInvalidName is returned for names that escape the store root.
var ErrInvalidName = errors.New("invalid artifact name")

// PutOptions describes stored content.
type PutOptions struct {
	MimeType string
	Metadata map[string]string
}

// Store persists named artifacts. Put returns a reference such as
// file:///abs/path or s3://bucket/key.
type Store interface {
	Put(ctx context.Context, name string, data io.Reader, opts PutOptions) (string, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Close() error
}

// Backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config selects the artifact backend.
type Config struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=local,enum=s3"`
	// Dir is the local output directory.
	Dir string         `yaml:"dir,omitempty" json:"dir,omitempty"`
	S3  *S3StoreConfig `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// DefaultDir is used when no local directory is configured.
const DefaultDir = ".hookguard/artifacts"

// Open builds the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		dir := cfg.Dir
		if dir == "" {
			dir = DefaultDir
		}
		return NewLocalStore(dir)
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", cfg.Backend)
	}
}

// cleanName validates a slash-separated relative name.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	cleaned := path.Clean(name)
	if name == "" || path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

// MimeType guesses a content type from the name's extension.
func MimeType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".txt", ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
