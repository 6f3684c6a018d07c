// Package jsonl appends delivered records to a newline-delimited JSON file.
package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// Config captures the parameters for the JSONL record sink.
type Config struct {
	// Path is the output file. Parent directories are created as needed.
	Path string `mapstructure:"path" yaml:"path"`
}

// Sink appends one JSON document per record. Deliveries are serialized, so
// concurrent callers never interleave lines.
type Sink struct {
	mu   sync.Mutex
	path string
}

// New validates the target path and creates its directory.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	return &Sink{path: cfg.Path}, nil
}

// DeliverRecords appends the batch to the output file. The batch is encoded
// fully before anything is written, so a marshalling failure leaves the file
// untouched.
func (s *Sink) DeliverRecords(_ context.Context, records []catalog.Record) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Identity(), err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("write records: %w (close file: %v)", err, closeErr)
		}
		return fmt.Errorf("write records: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}
