package gcf

import (
	"errors"
	"slices"
	"testing"
)

func TestEncoderDecoderFields(t *testing.T) {
	t.Parallel()

	e := NewEncoder(64)
	e.U8(7)
	e.U32(0xDEADBEEF)
	e.I32(-3)
	e.U64(1 << 40)
	e.I64(-1 << 40)
	e.F32(0.125)
	e.Text("Appended/FC/Weights")
	e.Blob([]byte{9, 8, 7})
	e.Blob(nil)
	e.I32s([]int32{1, 1, 1, 4})
	e.I64s([]int64{128})
	e.F32s([]float32{-1, 1})

	d := NewDecoder(e.Bytes())
	if got := d.U8(); got != 7 {
		t.Fatalf("U8: got %d want 7", got)
	}
	if got := d.Offset(); got != 1 {
		t.Fatalf("offset after U8: got %d want 1", got)
	}
	if got := d.U32(); got != 0xDEADBEEF {
		t.Fatalf("U32: got %x", got)
	}
	if got := d.I32(); got != -3 {
		t.Fatalf("I32: got %d want -3", got)
	}
	if got := d.U64(); got != 1<<40 {
		t.Fatalf("U64: got %d", got)
	}
	if got := d.I64(); got != -1<<40 {
		t.Fatalf("I64: got %d", got)
	}
	if got := d.F32(); got != 0.125 {
		t.Fatalf("F32: got %v want 0.125", got)
	}
	if got := d.Text(); got != "Appended/FC/Weights" {
		t.Fatalf("Text: got %q", got)
	}
	if got := d.Blob(); !slices.Equal(got, []byte{9, 8, 7}) {
		t.Fatalf("Blob: got %v", got)
	}
	if got := d.Blob(); got != nil {
		t.Fatalf("empty Blob: got %v want nil", got)
	}
	if got := d.I32s(); !slices.Equal(got, []int32{1, 1, 1, 4}) {
		t.Fatalf("I32s: got %v", got)
	}
	if got := d.I64s(); !slices.Equal(got, []int64{128}) {
		t.Fatalf("I64s: got %v", got)
	}
	if got := d.F32s(); !slices.Equal(got, []float32{-1, 1}) {
		t.Fatalf("F32s: got %v", got)
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decoder error: %v", err)
	}
	if d.Remaining() != 0 {
		t.Fatalf("remaining: got %d want 0", d.Remaining())
	}
	if got, want := d.Offset(), len(e.Bytes()); got != want {
		t.Fatalf("final offset: got %d want %d", got, want)
	}
}

func TestDecoderStickyOverrun(t *testing.T) {
	t.Parallel()

	d := NewDecoder([]byte{1, 2})
	_ = d.U32()
	if !errors.Is(d.Err(), ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", d.Err())
	}
	if got := d.U8(); got != 0 {
		t.Fatalf("read after error: got %d want 0", got)
	}
}

func TestDecoderRejectsOversizedCount(t *testing.T) {
	t.Parallel()

	e := NewEncoder(8)
	e.U32(1 << 30)
	d := NewDecoder(e.Bytes())
	if got := d.I64s(); got != nil {
		t.Fatalf("expected nil list, got %d elements", len(got))
	}
	if !errors.Is(d.Err(), ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", d.Err())
	}
}
