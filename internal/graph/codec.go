package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/graft/pkg/gcf"
)

// Section payload versions written by Encode.
const (
	opcodesVersion   uint32 = 1
	buffersVersion   uint32 = 1
	subgraphsVersion uint32 = 1
	metadataVersion  uint32 = 1
)

const bufferEntrySize = 16

// Decode builds a Model from a parsed container. The returned model owns all
// of its data, so f may be closed afterwards.
func Decode(f *gcf.File) (*Model, error) {
	m := &Model{}

	var err error
	if m.OperatorCodes, err = decodeOperatorCodes(f); err != nil {
		return nil, err
	}
	if m.Buffers, err = decodeBuffers(f); err != nil {
		return nil, err
	}
	if err := decodeSubgraphs(f, m); err != nil {
		return nil, err
	}
	if err := decodeMetadata(f, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func sectionDecoder(f *gcf.File, typ gcf.SectionType, version uint32, required bool) (*gcf.Decoder, error) {
	sec := f.Section(typ)
	if sec == nil {
		if required {
			return nil, fmt.Errorf("%w: missing %s section", ErrFormat, typ)
		}
		return nil, nil
	}
	d := gcf.NewDecoder(f.SectionData(sec))
	if v := d.U32(); d.Err() == nil && v != version {
		return nil, fmt.Errorf("%w: %w: %s section version %d", ErrFormat, gcf.ErrUnsupportedSection, typ, v)
	}
	if sec.Version != version {
		return nil, fmt.Errorf("%w: %w: %s directory version %d", ErrFormat, gcf.ErrUnsupportedSection, typ, sec.Version)
	}
	return d, nil
}

func decodeErr(typ gcf.SectionType, err error) error {
	return fmt.Errorf("%w: %s section: %w", ErrFormat, typ, err)
}

func decodeOperatorCodes(f *gcf.File) ([]OperatorCode, error) {
	d, err := sectionDecoder(f, gcf.SectionOperatorCodes, opcodesVersion, true)
	if err != nil {
		return nil, err
	}
	n := d.U32()
	out := make([]OperatorCode, 0, min(int(n), d.Remaining()/8))
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		out = append(out, OperatorCode{
			Builtin:    BuiltinOperator(d.U32()),
			CustomCode: d.Text(),
		})
	}
	if err := d.Err(); err != nil {
		return nil, decodeErr(gcf.SectionOperatorCodes, err)
	}
	return out, nil
}

func decodeBuffers(f *gcf.File) ([]Buffer, error) {
	sec := f.Section(gcf.SectionBuffers)
	d, err := sectionDecoder(f, gcf.SectionBuffers, buffersVersion, true)
	if err != nil {
		return nil, err
	}
	data := f.SectionData(sec)
	n := int(d.U32())
	if d.Err() == nil && n > d.Remaining()/bufferEntrySize {
		return nil, fmt.Errorf("%w: buffers section: %d entries exceed payload", ErrFormat, n)
	}
	if err := d.Err(); err != nil {
		return nil, decodeErr(gcf.SectionBuffers, err)
	}

	out := make([]Buffer, n)
	for i := range out {
		off := d.U64()
		size := d.U64()
		if d.Err() != nil {
			break
		}
		end := off + size
		if end < off || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: buffer %d spans [%d, %d) outside section of %d bytes", ErrFormat, i, off, end, len(data))
		}
		if size > 0 {
			out[i].Data = make([]byte, size)
			copy(out[i].Data, data[off:end])
		}
	}
	if err := d.Err(); err != nil {
		return nil, decodeErr(gcf.SectionBuffers, err)
	}
	return out, nil
}

func decodeSubgraphs(f *gcf.File, m *Model) error {
	d, err := sectionDecoder(f, gcf.SectionSubgraphs, subgraphsVersion, true)
	if err != nil {
		return err
	}
	if n := d.U32(); d.Err() == nil && n != 1 {
		return fmt.Errorf("%w: graph has %d subgraphs, want 1", ErrStructure, n)
	}

	sg := &m.Subgraph
	sg.Name = d.Text()

	nt := d.U32()
	for i := uint32(0); i < nt && d.Err() == nil; i++ {
		t := Tensor{
			Type:   TensorType(d.U8()),
			Shape:  d.I32s(),
			Buffer: BufferIndex(d.U32()),
			Name:   d.Text(),
		}
		if d.U8() != 0 {
			t.Quantization = &Quantization{
				Min:       d.F32s(),
				Max:       d.F32s(),
				Scale:     d.F32s(),
				ZeroPoint: d.I64s(),
			}
		}
		sg.Tensors = append(sg.Tensors, t)
	}

	no := d.U32()
	for i := uint32(0); i < no && d.Err() == nil; i++ {
		op := Operator{
			Opcode:  OpcodeIndex(d.U32()),
			Inputs:  tensorIndices(d.I32s()),
			Outputs: tensorIndices(d.I32s()),
		}
		optType := OptionsType(d.U8())
		optData := d.Blob()
		op.CustomOptions = d.Blob()
		op.CustomOptionsFormat = CustomOptionsFormat(d.U8())
		if d.Err() != nil {
			break
		}
		if op.Options, err = decodeOptions(optType, optData); err != nil {
			return fmt.Errorf("operator %d: %w", i, err)
		}
		sg.Operators = append(sg.Operators, op)
	}

	sg.Inputs = tensorIndices(d.I32s())
	sg.Outputs = tensorIndices(d.I32s())
	if err := d.Err(); err != nil {
		return decodeErr(gcf.SectionSubgraphs, err)
	}
	return nil
}

func decodeMetadata(f *gcf.File, m *Model) error {
	d, err := sectionDecoder(f, gcf.SectionMetadata, metadataVersion, false)
	if err != nil || d == nil {
		return err
	}
	id := d.Blob()
	m.Metadata.Producer = d.Text()
	m.Metadata.Description = d.Text()
	parent := d.Blob()
	if err := d.Err(); err != nil {
		return decodeErr(gcf.SectionMetadata, err)
	}
	if m.Metadata.ID, err = uuid.FromBytes(id); err != nil {
		return fmt.Errorf("%w: metadata graph id: %w", ErrFormat, err)
	}
	if m.Metadata.ParentID, err = uuid.FromBytes(parent); err != nil {
		return fmt.Errorf("%w: metadata parent id: %w", ErrFormat, err)
	}
	return nil
}

func tensorIndices(vs []int32) []TensorIndex {
	if vs == nil {
		return nil
	}
	out := make([]TensorIndex, len(vs))
	for i, v := range vs {
		out[i] = TensorIndex(v)
	}
	return out
}

func rawIndices(vs []TensorIndex) []int32 {
	out := make([]int32, len(vs))
	for i, v := range vs {
		out[i] = int32(v)
	}
	return out
}

func decodeOptions(typ OptionsType, data []byte) (Options, error) {
	d := gcf.NewDecoder(data)
	var o Options
	switch typ {
	case OptionsNone:
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: %d option bytes without an options type", ErrFormat, len(data))
		}
		return nil, nil
	case OptionsL2Norm:
		o = L2NormOptions{Activation: Activation(d.U8())}
	case OptionsConv2D:
		o = Conv2DOptions{
			Padding:    Padding(d.U8()),
			StrideW:    d.I32(),
			StrideH:    d.I32(),
			DilationW:  d.I32(),
			DilationH:  d.I32(),
			Activation: Activation(d.U8()),
		}
	case OptionsReshape:
		o = ReshapeOptions{NewShape: d.I32s()}
	case OptionsSoftmax:
		o = SoftmaxOptions{Beta: d.F32()}
	default:
		return RawOptions{Type: typ, Data: data}, nil
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: options type %d: %w", ErrFormat, typ, err)
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: options type %d has %d trailing bytes", ErrFormat, typ, d.Remaining())
	}
	return o, nil
}

func encodeOptions(o Options) (OptionsType, []byte) {
	if o == nil {
		return OptionsNone, nil
	}
	e := gcf.NewEncoder(32)
	switch v := o.(type) {
	case L2NormOptions:
		e.U8(uint8(v.Activation))
	case Conv2DOptions:
		e.U8(uint8(v.Padding))
		e.I32(v.StrideW)
		e.I32(v.StrideH)
		e.I32(v.DilationW)
		e.I32(v.DilationH)
		e.U8(uint8(v.Activation))
	case ReshapeOptions:
		e.I32s(v.NewShape)
	case SoftmaxOptions:
		e.F32(v.Beta)
	case RawOptions:
		return v.Type, v.Data
	}
	return o.OptionsType(), e.Bytes()
}

// Encode writes the model's sections to w. The caller finalises the writer.
func Encode(m *Model, w *gcf.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}

	e := gcf.NewEncoder(64 + 16*len(m.OperatorCodes))
	e.U32(opcodesVersion)
	e.U32(uint32(len(m.OperatorCodes)))
	for _, oc := range m.OperatorCodes {
		e.U32(uint32(oc.Builtin))
		e.Text(oc.CustomCode)
	}
	if err := w.WriteSection(gcf.SectionOperatorCodes, opcodesVersion, e.Bytes()); err != nil {
		return err
	}

	if err := encodeBuffers(m.Buffers, w); err != nil {
		return err
	}

	if err := w.WriteSection(gcf.SectionSubgraphs, subgraphsVersion, encodeSubgraph(&m.Subgraph)); err != nil {
		return err
	}

	e = gcf.NewEncoder(64)
	e.U32(metadataVersion)
	e.Blob(m.Metadata.ID[:])
	e.Text(m.Metadata.Producer)
	e.Text(m.Metadata.Description)
	e.Blob(m.Metadata.ParentID[:])
	if err := w.WriteSection(gcf.SectionMetadata, metadataVersion, e.Bytes()); err != nil {
		return err
	}
	return w.AddFlags(gcf.FlagBufferDataAligned8)
}

// encodeBuffers streams the buffer table followed by each blob, 8-byte aligned.
func encodeBuffers(buffers []Buffer, w *gcf.Writer) error {
	sw, err := w.BeginSection(gcf.SectionBuffers, buffersVersion)
	if err != nil {
		return err
	}

	tableEnd := uint64(8 + bufferEntrySize*len(buffers))
	table := make([]byte, 0, tableEnd)
	table = binary.LittleEndian.AppendUint32(table, buffersVersion)
	table = binary.LittleEndian.AppendUint32(table, uint32(len(buffers)))
	off := tableEnd
	for _, b := range buffers {
		off = alignUp8(off)
		table = binary.LittleEndian.AppendUint64(table, off)
		table = binary.LittleEndian.AppendUint64(table, uint64(len(b.Data)))
		off += uint64(len(b.Data))
	}
	if _, err := sw.Write(table); err != nil {
		return err
	}

	for _, b := range buffers {
		if err := sw.Align(8); err != nil {
			return err
		}
		if _, err := sw.Write(b.Data); err != nil {
			return err
		}
	}
	return sw.End()
}

func alignUp8(n uint64) uint64 {
	return (n + 7) &^ 7
}

func encodeSubgraph(sg *Subgraph) []byte {
	e := gcf.NewEncoder(256 + 64*len(sg.Tensors))
	e.U32(subgraphsVersion)
	e.U32(1)
	e.Text(sg.Name)

	e.U32(uint32(len(sg.Tensors)))
	for i := range sg.Tensors {
		t := &sg.Tensors[i]
		e.U8(uint8(t.Type))
		e.I32s(t.Shape)
		e.U32(uint32(t.Buffer))
		e.Text(t.Name)
		if q := t.Quantization; q != nil {
			e.U8(1)
			e.F32s(q.Min)
			e.F32s(q.Max)
			e.F32s(q.Scale)
			e.I64s(q.ZeroPoint)
		} else {
			e.U8(0)
		}
	}

	e.U32(uint32(len(sg.Operators)))
	for i := range sg.Operators {
		op := &sg.Operators[i]
		e.U32(uint32(op.Opcode))
		e.I32s(rawIndices(op.Inputs))
		e.I32s(rawIndices(op.Outputs))
		typ, data := encodeOptions(op.Options)
		e.U8(uint8(typ))
		e.Blob(data)
		e.Blob(op.CustomOptions)
		e.U8(uint8(op.CustomOptionsFormat))
	}

	e.I32s(rawIndices(sg.Inputs))
	e.I32s(rawIndices(sg.Outputs))
	return e.Bytes()
}
