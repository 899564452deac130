package graph_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graph/graphtest"
	"github.com/samcharles93/graft/pkg/gcf"
)

func encodeToFile(t *testing.T, m *graph.Model) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.gcf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	w, err := gcf.NewWriter(f)
	require.NoError(t, err)
	require.NoError(t, graph.Encode(m, w))
	require.NoError(t, w.Finalise())
	return path
}

func decodeFile(t *testing.T, path string) (*graph.Model, error) {
	t.Helper()

	f, err := gcf.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	return graph.Decode(f)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 1, 1, 4}, 0.1, 0)
	m.Metadata.ParentID = uuid.MustParse("00000000-0000-4000-8000-000000000001")
	m.Metadata.Description = "round trip"

	// A custom operator and an options payload of a kind the codec does not interpret.
	emb := m.Subgraph.Outputs[0]
	boxes := m.AddTensor(graph.Tensor{Type: graph.TypeFloat32, Shape: []int32{1, 10, 4}, Buffer: m.AddBuffer(0), Name: "boxes"})
	m.AddOperator(graph.Operator{
		Opcode:        m.FindOrCreateOpcode(graph.OpCustom, "PostProcess"),
		Inputs:        []graph.TensorIndex{emb},
		Outputs:       []graph.TensorIndex{boxes},
		CustomOptions: []byte{0x01, 0x02, 0x03},
	})
	pooled := m.AddTensor(graph.Tensor{Type: graph.TypeUInt8, Shape: []int32{1, 4}, Buffer: m.AddBuffer(0), Name: "pooled"})
	m.AddOperator(graph.Operator{
		Opcode:  m.FindOrCreateOpcode(graph.OpMean, ""),
		Inputs:  []graph.TensorIndex{emb},
		Outputs: []graph.TensorIndex{pooled},
		Options: graph.RawOptions{Type: 27, Data: []byte{1}},
	})
	reshaped := m.AddTensor(graph.Tensor{Type: graph.TypeUInt8, Shape: []int32{1, 4}, Buffer: m.AddBuffer(0), Name: "reshaped"})
	m.AddOperator(graph.Operator{
		Opcode:  m.FindOrCreateOpcode(graph.OpReshape, ""),
		Inputs:  []graph.TensorIndex{pooled},
		Outputs: []graph.TensorIndex{reshaped},
		Options: graph.ReshapeOptions{NewShape: []int32{1, 4}},
	})
	m.Subgraph.Outputs = []graph.TensorIndex{boxes, reshaped}

	got, err := decodeFile(t, encodeToFile(t, m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestEncodeAlignsBufferData(t *testing.T) {
	t.Parallel()

	m := graphtest.EmbeddingModel([]int32{1, 1, 1, 3}, 0.1, 0)
	path := encodeToFile(t, m)

	f, err := gcf.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.NotZero(t, f.Header.Flags&gcf.FlagBufferDataAligned8)
	sec := f.Section(gcf.SectionBuffers)
	require.NotNil(t, sec)

	d := gcf.NewDecoder(f.SectionData(sec))
	require.Equal(t, uint32(1), d.U32())
	n := int(d.U32())
	require.Equal(t, len(m.Buffers), n)
	for i := 0; i < n; i++ {
		off := d.U64()
		size := d.U64()
		require.Zero(t, off%8, "buffer %d offset %d", i, off)
		require.Equal(t, uint64(len(m.Buffers[i].Data)), size)
	}
	require.NoError(t, d.Err())
}

func TestDecodeRejectsMultipleSubgraphs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "multi.gcf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	w, err := gcf.NewWriter(f)
	require.NoError(t, err)

	e := gcf.NewEncoder(16)
	e.U32(1)
	e.U32(0)
	require.NoError(t, w.WriteSection(gcf.SectionOperatorCodes, 1, e.Bytes()))
	require.NoError(t, w.WriteSection(gcf.SectionBuffers, 1, e.Bytes()))
	e = gcf.NewEncoder(16)
	e.U32(1)
	e.U32(2)
	require.NoError(t, w.WriteSection(gcf.SectionSubgraphs, 1, e.Bytes()))
	require.NoError(t, w.Finalise())

	_, err = decodeFile(t, path)
	require.ErrorIs(t, err, graph.ErrStructure)
}

func TestDecodeRejectsMalformedSections(t *testing.T) {
	t.Parallel()

	valid := graphtest.EmbeddingModel([]int32{1, 1, 1, 4}, 0.1, 0)
	validPath := encodeToFile(t, valid)
	src, err := gcf.Open(validPath)
	require.NoError(t, err)
	sections := map[gcf.SectionType][]byte{}
	for i := range src.Sections {
		s := &src.Sections[i]
		sections[gcf.SectionType(s.Type)] = append([]byte(nil), src.SectionData(s)...)
	}
	require.NoError(t, src.Close())

	tests := []struct {
		name    string
		mutate  func(map[gcf.SectionType][]byte)
		wantErr error
	}{
		{"missing subgraphs", func(s map[gcf.SectionType][]byte) { delete(s, gcf.SectionSubgraphs) }, graph.ErrFormat},
		{"truncated subgraphs", func(s map[gcf.SectionType][]byte) {
			s[gcf.SectionSubgraphs] = s[gcf.SectionSubgraphs][:20]
		}, gcf.ErrCorruptFile},
		{"future opcodes version", func(s map[gcf.SectionType][]byte) {
			s[gcf.SectionOperatorCodes][0] = 9
		}, gcf.ErrUnsupportedSection},
		{"buffer outside section", func(s map[gcf.SectionType][]byte) {
			// First table entry offset.
			s[gcf.SectionBuffers][8] = 0xff
			s[gcf.SectionBuffers][9] = 0xff
		}, graph.ErrFormat},
		{"short metadata id", func(s map[gcf.SectionType][]byte) {
			s[gcf.SectionMetadata][4] = 15
		}, graph.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := map[gcf.SectionType][]byte{}
			for k, v := range sections {
				data[k] = append([]byte(nil), v...)
			}
			tt.mutate(data)

			path := filepath.Join(t.TempDir(), "bad.gcf")
			f, err := os.Create(path)
			require.NoError(t, err)
			defer func() { _ = f.Close() }()
			w, err := gcf.NewWriter(f)
			require.NoError(t, err)
			for _, typ := range []gcf.SectionType{gcf.SectionOperatorCodes, gcf.SectionBuffers, gcf.SectionSubgraphs, gcf.SectionMetadata} {
				if payload, ok := data[typ]; ok {
					require.NoError(t, w.WriteSection(typ, 1, payload))
				}
			}
			require.NoError(t, w.Finalise())

			_, err = decodeFile(t, path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v want %v", err, tt.wantErr)
			}
		})
	}
}
