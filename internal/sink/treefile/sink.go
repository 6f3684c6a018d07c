// Package treefile writes a delivered category hierarchy to a single JSON
// document on the local filesystem.
package treefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// Config captures the parameters for the tree file sink.
type Config struct {
	// Path is the output file. Parent directories are created as needed.
	Path string `mapstructure:"path" yaml:"path"`
	// Indent pretty-prints the document when set.
	Indent bool `mapstructure:"indent" yaml:"indent"`
}

// Sink writes one hierarchy document per delivery, replacing the previous
// one.
type Sink struct {
	path   string
	indent bool
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
	return &Sink{path: cfg.Path, indent: cfg.Indent}, nil
}

// DeliverTree serializes the hierarchy, preserving whichever root shape it
// was built with, and writes it atomically via a temp file rename.
func (s *Sink) DeliverTree(_ context.Context, tree *catalog.Hierarchy) error {
	if tree == nil {
		return fmt.Errorf("nil hierarchy")
	}
	var (
		data []byte
		err  error
	)
	if s.indent {
		data, err = json.MarshalIndent(tree, "", "  ")
	} else {
		data, err = json.Marshal(tree)
	}
	if err != nil {
		return fmt.Errorf("marshal hierarchy: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
