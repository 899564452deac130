package graphstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graph/graphtest"
)

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 1, 1, 8}, 0.05, 3)
	origID := m.Metadata.ID
	path := filepath.Join(t.TempDir(), "model.gcf")

	if err := Save(m, path, SaveOptions{Producer: "graft test"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if m.Metadata.ID == origID || m.Metadata.ID == uuid.Nil {
		t.Fatalf("graph id not refreshed: got %v", m.Metadata.ID)
	}
	if m.Metadata.ParentID != origID {
		t.Fatalf("parent id: got %v want %v", m.Metadata.ParentID, origID)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Metadata != m.Metadata {
		t.Fatalf("metadata: got %+v want %+v", got.Metadata, m.Metadata)
	}
	if got.Metadata.Producer != "graft test" {
		t.Fatalf("producer: got %q", got.Metadata.Producer)
	}
	out, err := got.OutputTensor()
	if err != nil {
		t.Fatalf("output tensor: %v", err)
	}
	if name := got.Tensor(out).Name; name != "embedding" {
		t.Fatalf("output name: got %q want embedding", name)
	}
	if len(got.Buffers) != len(m.Buffers) {
		t.Fatalf("buffers: got %d want %d", len(got.Buffers), len(m.Buffers))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.gcf")
	if err := os.WriteFile(path, []byte("stale contents"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := Save(graphtest.EmbeddingModel([]int32{1, 4}, 0.1, 0), path, SaveOptions{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.gcf")); !errors.Is(err, ErrIO) {
		t.Fatalf("missing file: got %v want ErrIO", err)
	}

	garbage := filepath.Join(dir, "garbage.gcf")
	if err := os.WriteFile(garbage, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := Load(garbage); !errors.Is(err, graph.ErrFormat) {
		t.Fatalf("garbage file: got %v want ErrFormat", err)
	}
}

func TestSaveRejectsInvalidModel(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 4}, 0.1, 0)
	m.Subgraph.Outputs = nil
	path := filepath.Join(t.TempDir(), "model.gcf")
	if err := Save(m, path, SaveOptions{}); !errors.Is(err, graph.ErrStructure) {
		t.Fatalf("got %v want ErrStructure", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid model was written: %v", err)
	}
}

func TestSaveToMissingDirectory(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 4}, 0.1, 0)
	err := Save(m, filepath.Join(t.TempDir(), "no", "such", "dir", "model.gcf"), SaveOptions{})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("got %v want ErrIO", err)
	}
}
