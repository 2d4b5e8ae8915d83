package diskcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"gachavault/internal/core"
)

const (
	// IndexFileMagic identifies the master index file.
	IndexFileMagic uint32 = 0xC103CAC3

	// indexFileHeaderSize is the fixed on-disk header size, including the
	// LRU bookkeeping the readers skip. The address table follows it.
	indexFileHeaderSize = 368
)

// Index versions observed in game client caches.
var indexFileVersions = map[uint32]bool{
	0x20000: true, // 2.0
	0x20001: true, // 2.1
	0x30000: true, // 3.0
}

// IndexFileHeader is the leading fixed fields of the index file.
type IndexFileHeader struct {
	Magic      uint32
	Version    uint32
	NumEntries int32
	NumBytes   int32
	LastFile   int32
	ThisID     int32
	Stats      Addr
	TableLen   int32
}

// IndexFile is the master index loaded fully into memory: a header plus a
// hash table of addresses pointing into the block files. Unused table slots
// are uninitialized addresses and must be skipped by callers.
type IndexFile struct {
	Header IndexFileHeader
	table  []Addr
}

// OpenIndexFile reads and validates the index file at path.
func OpenIndexFile(path string) (*IndexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewCacheFormatError(fmt.Sprintf("read index file %s", path), err)
	}
	return ParseIndexFile(data)
}

// ParseIndexFile validates an in-memory index file image.
func ParseIndexFile(data []byte) (*IndexFile, error) {
	if len(data) < indexFileHeaderSize {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("index file truncated: %d bytes, want at least %d", len(data), indexFileHeaderSize), nil)
	}

	var header IndexFileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, core.NewCacheFormatError("decode index file header", err)
	}
	if header.Magic != IndexFileMagic {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("bad index file magic 0x%08X, want 0x%08X", header.Magic, IndexFileMagic), nil)
	}
	if !indexFileVersions[header.Version] {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("unsupported index file version 0x%X", header.Version), nil)
	}

	// Older caches leave TableLen zero; the table then simply fills the
	// rest of the file.
	tableLen := int(header.TableLen)
	if tableLen <= 0 {
		tableLen = (len(data) - indexFileHeaderSize) / 4
	}
	if indexFileHeaderSize+tableLen*4 > len(data) {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("index table of %d slots exceeds file size %d", tableLen, len(data)), nil)
	}

	table := make([]Addr, tableLen)
	if err := binary.Read(bytes.NewReader(data[indexFileHeaderSize:]), binary.LittleEndian, &table); err != nil {
		return nil, core.NewCacheFormatError("decode index table", err)
	}

	return &IndexFile{Header: header, table: table}, nil
}

// Table returns the address table. The slice is shared; callers must not
// modify it.
func (f *IndexFile) Table() []Addr {
	return f.table
}
