package gcf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Section payload encoding, little-endian.
//
//   scalars: u8, u32, i32, u64, i64, f32 at their natural width, unaligned
//   string / blob: u32 byte_len, then byte_len bytes (no NUL terminator)
//   lists: u32 count, then count fixed-width elements

// Encoder appends payload fields to an in-memory buffer.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) U8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) U32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

func (e *Encoder) I32(v int32) { e.U32(uint32(v)) }

func (e *Encoder) U64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *Encoder) I64(v int64) { e.U64(uint64(v)) }

func (e *Encoder) F32(v float32) { e.U32(math.Float32bits(v)) }

func (e *Encoder) Blob(b []byte) {
	e.U32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Text(s string) {
	e.U32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) I32s(vs []int32) {
	e.U32(uint32(len(vs)))
	for _, v := range vs {
		e.I32(v)
	}
}

func (e *Encoder) I64s(vs []int64) {
	e.U32(uint32(len(vs)))
	for _, v := range vs {
		e.I64(v)
	}
}

func (e *Encoder) F32s(vs []float32) {
	e.U32(uint32(len(vs)))
	for _, v := range vs {
		e.F32(v)
	}
}

// Decoder reads payload fields from a section.
//
// Errors are sticky: after the first overrun every read returns a zero value
// and Err reports the failure.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Offset() int { return d.pos }

func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.data)-d.pos {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorruptFile, n, d.pos, len(d.data)-d.pos)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) I32() int32 { return int32(d.U32()) }

func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Decoder) I64() int64 { return int64(d.U64()) }

func (d *Decoder) F32() float32 { return math.Float32frombits(d.U32()) }

// Blob returns a copy of a length-prefixed byte blob, or nil when empty.
func (d *Decoder) Blob() []byte {
	n := d.count(1)
	b := d.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *Decoder) Text() string {
	n := d.count(1)
	return string(d.take(n))
}

func (d *Decoder) I32s() []int32 {
	n := d.count(4)
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = d.I32()
	}
	return out
}

func (d *Decoder) I64s() []int64 {
	n := d.count(8)
	if n == 0 {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = d.I64()
	}
	return out
}

func (d *Decoder) F32s() []float32 {
	n := d.count(4)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = d.F32()
	}
	return out
}

// count reads a u32 element count and rejects counts that cannot fit in the
// remaining payload, so corrupt input never triggers a huge allocation.
func (d *Decoder) count(elemSize int) int {
	n := int(d.U32())
	if d.err != nil {
		return 0
	}
	if n > d.Remaining()/elemSize {
		d.err = fmt.Errorf("%w: count %d at offset %d exceeds payload", ErrCorruptFile, n, d.pos-4)
		return 0
	}
	return n
}
