// Package gcs writes delivered hierarchies to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Sink uploads one timestamped JSON object per delivered hierarchy.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New verifies the bucket is reachable and returns a Sink bound to it.
func New(ctx context.Context, client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// DeliverTree uploads the hierarchy as a JSON object and returns on the
// first write or close failure.
func (s *Sink) DeliverTree(ctx context.Context, tree *catalog.Hierarchy) error {
	if tree == nil {
		return fmt.Errorf("nil hierarchy")
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal hierarchy: %w", err)
	}

	name := path.Join(s.prefix, fmt.Sprintf("tree-%s.json", s.now().UTC().Format("20060102T150405Z")))
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
