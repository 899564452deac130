// Package graphstore reads and writes graph files.
package graphstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/pkg/gcf"
)

// ErrIO reports a graph file that could not be read or written.
var ErrIO = errors.New("graphstore: i/o failure")

// Load reads and decodes the graph at path. The mapping of the file is
// released before Load returns.
func Load(path string) (*graph.Model, error) {
	f, err := gcf.Open(path)
	if err != nil {
		if isFormatErr(err) {
			return nil, fmt.Errorf("%w: %s: %w", graph.ErrFormat, path, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer func() { _ = f.Close() }()

	m, err := graph.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

func isFormatErr(err error) bool {
	return errors.Is(err, gcf.ErrCorruptFile) ||
		errors.Is(err, gcf.ErrInvalidMagic) ||
		errors.Is(err, gcf.ErrUnsupportedMajor) ||
		errors.Is(err, gcf.ErrUnsupportedSection)
}

// SaveOptions controls the provenance recorded by Save.
type SaveOptions struct {
	// Producer replaces the model's producer string when non-empty.
	Producer    string
	Description string
}

// Save encodes m to path, replacing any existing file atomically. The model
// is stamped with a fresh graph ID whose parent is the ID it carried before.
func Save(m *graph.Model, path string, opts SaveOptions) error {
	if err := m.Validate(); err != nil {
		return err
	}

	meta := m.Metadata
	meta.ParentID = meta.ID
	meta.ID = uuid.New()
	if opts.Producer != "" {
		meta.Producer = opts.Producer
	}
	if opts.Description != "" {
		meta.Description = opts.Description
	}

	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, tmp, err)
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}

	w, err := gcf.NewWriter(f)
	if err != nil {
		return fail(err)
	}
	prev := m.Metadata
	m.Metadata = meta
	if err := graph.Encode(m, w); err != nil {
		m.Metadata = prev
		return fail(err)
	}
	if err := w.Finalise(); err != nil {
		m.Metadata = prev
		return fail(err)
	}
	if err := f.Close(); err != nil {
		m.Metadata = prev
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %w", ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		m.Metadata = prev
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %w", ErrIO, path, err)
	}
	return nil
}
