// Package gcf implements the Graph Container File format.
//
// GCF is a single-file container for a serialized, quantized computation graph.
// A file is a fixed header, a set of section payloads and a section directory.
// The container only describes structure and data; it never implies runtime behaviour.
package gcf

// GCF global constants must never change.
const (
	// MagicGCF is the file magic for all GCF containers.
	// It is encoded as "GCF\0".
	MagicGCF = "GCF\x00"

	// Current Major Version: Any change indicates a breaking format change.
	CurrentMajor uint16 = 1

	// Current Minor Version: Versions may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagBufferDataAligned8 marks files whose buffer blobs start on 8-byte boundaries.
	FlagBufferDataAligned8 uint64 = 1 << 0
)

const (
	headerSize   = 40
	sectionSize  = 24
	sectionAlign = 8
)

type SectionType uint32

const (
	SectionOperatorCodes SectionType = 0x0001
	SectionBuffers       SectionType = 0x0002
	SectionSubgraphs     SectionType = 0x0003
	SectionMetadata      SectionType = 0x0004
)

func (t SectionType) String() string {
	switch t {
	case SectionOperatorCodes:
		return "operator_codes"
	case SectionBuffers:
		return "buffers"
	case SectionSubgraphs:
		return "subgraphs"
	case SectionMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicGCF {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	return h.SectionCount != 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}
