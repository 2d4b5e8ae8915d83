package diskcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"gachavault/internal/core"
)

const (
	// BlockFileMagic identifies a block file (data_N).
	BlockFileMagic uint32 = 0xC104CAC3
	// BlockFileVersion is the only block file version in the wild.
	BlockFileVersion uint32 = 0x20000

	// blockFileHeaderSize is the fixed on-disk header size; the slot
	// array starts immediately after it.
	blockFileHeaderSize = 8192
)

// BlockFileHeader is the leading fixed fields of a block file. The remainder
// of the 8192-byte header is allocation bitmaps the readers never need.
type BlockFileHeader struct {
	Magic      uint32
	Version    uint32
	ThisFile   int16
	NextFile   int16
	EntrySize  int32
	NumEntries int32
	MaxEntries int32
}

// BlockFile is one cache data file loaded fully into memory. Read-only after
// construction; safe for concurrent use.
type BlockFile struct {
	Header BlockFileHeader
	data   []byte
}

// OpenBlockFile reads and validates a block file. A short file, wrong magic
// or unknown version yields a cache-format error.
func OpenBlockFile(path string) (*BlockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewCacheFormatError(fmt.Sprintf("read block file %s", path), err)
	}
	return ParseBlockFile(data)
}

// ParseBlockFile validates an in-memory block file image.
func ParseBlockFile(data []byte) (*BlockFile, error) {
	if len(data) < blockFileHeaderSize {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("block file truncated: %d bytes, want at least %d", len(data), blockFileHeaderSize), nil)
	}

	var header BlockFileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, core.NewCacheFormatError("decode block file header", err)
	}
	if header.Magic != BlockFileMagic {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("bad block file magic 0x%08X, want 0x%08X", header.Magic, BlockFileMagic), nil)
	}
	if header.Version != BlockFileVersion {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("unsupported block file version 0x%X", header.Version), nil)
	}

	return &BlockFile{Header: header, data: data}, nil
}

// ReadData returns n bytes starting at the address' byte offset within the
// file's data region. The address' own kind decides the offset unit, so the
// same method serves 256-byte entry slots and byte-addressed long keys.
func (f *BlockFile) ReadData(addr Addr, n uint32) ([]byte, error) {
	if !addr.IsInitialized() {
		return nil, core.NewCacheFormatError("read at uninitialized address", nil)
	}
	start := uint64(blockFileHeaderSize) + uint64(addr.ByteOffset())
	end := start + uint64(n)
	if end > uint64(len(f.data)) {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("address 0x%08X + %d bytes exceeds block file size %d", uint32(addr), n, len(f.data)), nil)
	}
	return f.data[start:end], nil
}
