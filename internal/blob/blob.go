// Package blob abstracts the off-box object store used for archival.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"scratch-registry/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blob: object not found")

// ContentTypeJSON is used for every archived document.
const ContentTypeJSON = "application/json"

// Store is a minimal key/value object store.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Open builds the backend selected by configuration. The "none" backend
// returns a nil Store.
func Open(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocal(cfg.LocalDir)
	case "s3", "r2":
		return NewS3(ctx, S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		}, logger)
	case "gcs":
		return NewGCS(ctx, GCSOptions{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported archive backend %q", cfg.Backend)
	}
}
