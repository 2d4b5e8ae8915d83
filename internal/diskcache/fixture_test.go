package diskcache

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildIndexImage assembles a minimal valid index file around the given
// address table.
func buildIndexImage(t *testing.T, table []Addr) []byte {
	t.Helper()

	header := IndexFileHeader{
		Magic:      IndexFileMagic,
		Version:    0x20001,
		NumEntries: int32(len(table)),
		TableLen:   int32(len(table)),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		t.Fatalf("write index header: %v", err)
	}
	buf.Write(make([]byte, indexFileHeaderSize-buf.Len()))
	if err := binary.Write(&buf, binary.LittleEndian, table); err != nil {
		t.Fatalf("write index table: %v", err)
	}
	return buf.Bytes()
}

// blockImageBuilder assembles a block file image slot by slot.
type blockImageBuilder struct {
	t        *testing.T
	thisFile int16
	data     []byte
}

func newBlockImage(t *testing.T, thisFile int16, sizeBytes int) *blockImageBuilder {
	t.Helper()

	header := BlockFileHeader{
		Magic:     BlockFileMagic,
		Version:   BlockFileVersion,
		ThisFile:  thisFile,
		EntrySize: entryBlockSize,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		t.Fatalf("write block header: %v", err)
	}
	buf.Write(make([]byte, blockFileHeaderSize-buf.Len()))
	buf.Write(make([]byte, sizeBytes))
	return &blockImageBuilder{t: t, thisFile: thisFile, data: buf.Bytes()}
}

// putBytes writes raw bytes at the address' byte offset.
func (b *blockImageBuilder) putBytes(addr Addr, p []byte) {
	b.t.Helper()
	start := blockFileHeaderSize + int(addr.ByteOffset())
	if start+len(p) > len(b.data) {
		b.t.Fatalf("fixture write at 0x%08X overflows image", uint32(addr))
	}
	copy(b.data[start:], p)
}

// putEntry writes an entry record. A non-zero longKey makes it a long-url
// entry with keyLen key bytes out of line; otherwise key is stored inline.
func (b *blockImageBuilder) putEntry(addr Addr, creationTime uint64, key string, longKey Addr, keyLen int32) {
	b.t.Helper()

	raw := entryStoreRaw{
		Hash:         0xFEEDBEEF,
		CreationTime: creationTime,
		LongKey:      longKey,
		KeyLen:       keyLen,
	}
	if longKey == 0 {
		raw.KeyLen = int32(len(key))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		b.t.Fatalf("write entry record: %v", err)
	}
	if longKey == 0 {
		buf.WriteString(key)
	}
	b.putBytes(addr, buf.Bytes())
}

func (b *blockImageBuilder) image() []byte {
	return b.data
}
