package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GCSOptions configure a Google Cloud Storage bucket.
type GCSOptions struct {
	Bucket          string
	CredentialsFile string
}

// GCSStore stores objects in a GCS bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
	logger zerolog.Logger
}

// NewGCS builds a client from a service account key file, or from
// application default credentials when no file is configured.
func NewGCS(ctx context.Context, opts GCSOptions, logger zerolog.Logger) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("archive.gcs.bucket is required")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		if _, err := os.Stat(opts.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", opts.CredentialsFile, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: opts.Bucket,
		logger: logger.With().Str("component", "blob_gcs").Str("bucket", opts.Bucket).Logger(),
	}, nil
}

// Put uploads the object.
func (g *GCSStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache"

	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", g.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gcs writer for %s: %w", key, err)
	}
	g.logger.Debug().Str("key", key).Int("bytes", len(body)).Msg("object uploaded")
	return nil
}

// Get downloads the object.
func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", g.bucket, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", g.bucket, key, err)
	}
	return data, nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

var _ Store = (*GCSStore)(nil)
