package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
)

// GCSStore publishes reports to a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates the bucket-backed store. A key file is optional;
// without one the client falls back to ambient credentials.
func NewGCSStore(ctx context.Context, cfg config.ReportsConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("reports bucket is not configured")
	}
	var opts []option.ClientOption
	if cfg.KeyFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.KeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *GCSStore) Publish(ctx context.Context, runID, name, content string) (string, error) {
	object := fmt.Sprintf("reports/%s/%s", runID, name)
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType(name)
	w.CacheControl = "no-cache"
	if _, err := io.Copy(w, strings.NewReader(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload report %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize report %s: %w", object, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object), nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func contentType(name string) string {
	if strings.HasSuffix(name, ".md") {
		return "text/markdown"
	}
	return "text/plain"
}
