// Package diskcache reads the Chromium simple-block disk cache format the
// miHoYo game clients embed: a master index file plus numbered block files.
// Everything is loaded read-only; after construction the readers are safe for
// concurrent use.
package diskcache

// FileKind selects how a cache address' offset is interpreted.
type FileKind uint32

const (
	// KindExternal addresses a standalone file; offsets are bytes.
	KindExternal FileKind = 0
	// KindBlock256 addresses a 256-byte block file (data_1).
	KindBlock256 FileKind = 1
	// KindBlock1K addresses a 1 KiB block file (data_2).
	KindBlock1K FileKind = 2
	// KindBlock4K addresses a 4 KiB block file (data_3).
	KindBlock4K FileKind = 3
)

// BlockSize returns the offset unit in bytes for the kind.
func (k FileKind) BlockSize() uint32 {
	switch k {
	case KindBlock256:
		return 256
	case KindBlock1K:
		return 1024
	case KindBlock4K:
		return 4096
	default:
		return 1
	}
}

const (
	addrInitializedMask = 0x80000000
	addrFileKindMask    = 0x70000000
	addrFileKindShift   = 28
	addrFileNumberMask  = 0x0FF00000
	addrFileNumberShift = 20
	addrOffsetMask      = 0x000FFFFF
)

// Addr is a packed 32-bit cache address. Bit 31 marks the address as
// initialized; an address without it carries no information and callers must
// treat the slot as empty. Bits 28-30 are the file kind, bits 20-27 the file
// number and bits 0-19 the offset in kind-sized units.
type Addr uint32

// MakeAddr packs the fields into an initialized address. Out-of-range fields
// are truncated to their bit width.
func MakeAddr(kind FileKind, fileNumber uint8, offset uint32) Addr {
	return Addr(addrInitializedMask |
		(uint32(kind) << addrFileKindShift & addrFileKindMask) |
		(uint32(fileNumber) << addrFileNumberShift & addrFileNumberMask) |
		(offset & addrOffsetMask))
}

// IsInitialized reports whether the address holds anything at all.
func (a Addr) IsInitialized() bool {
	return uint32(a)&addrInitializedMask != 0
}

// FileKind returns which kind of file the address points into.
func (a Addr) FileKind() FileKind {
	return FileKind(uint32(a) & addrFileKindMask >> addrFileKindShift)
}

// FileNumber returns the numeric suffix of the target file (data_N).
func (a Addr) FileNumber() uint8 {
	return uint8(uint32(a) & addrFileNumberMask >> addrFileNumberShift)
}

// Offset returns the offset within the target file, in units of the kind's
// block size (plain bytes for external files).
func (a Addr) Offset() uint32 {
	return uint32(a) & addrOffsetMask
}

// ByteOffset returns the offset converted to bytes.
func (a Addr) ByteOffset() uint32 {
	return a.Offset() * a.FileKind().BlockSize()
}
