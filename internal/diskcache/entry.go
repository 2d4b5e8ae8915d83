package diskcache

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gachavault/internal/core"
)

const (
	// entryStoreSize is the fixed part of an entry record, before the
	// inline key bytes.
	entryStoreSize = 96
	// entryBlockSize is the slot size of the primary block file.
	entryBlockSize = 256
	// shortKeyCapacity is how many key bytes fit in the first record.
	shortKeyCapacity = entryBlockSize - entryStoreSize
	// maxEntryBlocks bounds how many contiguous records one entry spans.
	maxEntryBlocks = 4
)

// entryStoreRaw mirrors the on-disk fixed part of an entry record.
type entryStoreRaw struct {
	Hash         uint32
	Next         Addr
	RankingsNode Addr
	ReuseCount   int32
	RefetchCount int32
	State        int32
	CreationTime uint64
	KeyLen       int32
	LongKey      Addr
	DataSize     [4]int32
	DataAddr     [4]Addr
	Flags        uint32
	Pad          [4]int32
	SelfHash     uint32
}

// EntryStore is one cache entry's metadata, reconstructed from 1-4
// contiguous records of the primary block file. Entries are rebuilt per query
// and never cached.
type EntryStore struct {
	Hash         uint32
	CreationTime uint64
	KeyLen       int32
	LongKey      Addr
	key          []byte
}

// ReadEntry reconstructs the entry at addr from the primary block file. The
// address must point into a 256-byte block file; anything else is a malformed
// index slot.
func ReadEntry(f *BlockFile, addr Addr) (*EntryStore, error) {
	if !addr.IsInitialized() {
		return nil, core.NewCacheFormatError("entry address is uninitialized", nil)
	}
	if addr.FileKind() != KindBlock256 {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("entry address 0x%08X is not a 256-byte block address", uint32(addr)), nil)
	}

	first, err := f.ReadData(addr, entryBlockSize)
	if err != nil {
		return nil, err
	}

	var raw entryStoreRaw
	if err := binary.Read(bytes.NewReader(first), binary.LittleEndian, &raw); err != nil {
		return nil, core.NewCacheFormatError("decode entry record", err)
	}
	if raw.KeyLen < 0 {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("entry at 0x%08X has negative key length %d", uint32(addr), raw.KeyLen), nil)
	}

	entry := &EntryStore{
		Hash:         raw.Hash,
		CreationTime: raw.CreationTime,
		KeyLen:       raw.KeyLen,
		LongKey:      raw.LongKey,
	}

	// Long keys live out of line; the inline key area is then unused.
	if entry.IsLongURL() {
		return entry, nil
	}

	span := entrySpan(raw.KeyLen)
	if span > maxEntryBlocks {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("entry at 0x%08X spans %d records, max %d", uint32(addr), span, maxEntryBlocks), nil)
	}

	// The inline key continues through the following contiguous records.
	whole, err := f.ReadData(addr, uint32(span)*entryBlockSize)
	if err != nil {
		return nil, err
	}
	keyArea := whole[entryStoreSize:]
	if int(raw.KeyLen) > len(keyArea) {
		return nil, core.NewCacheFormatError(
			fmt.Sprintf("entry at 0x%08X declares key length %d beyond its %d records", uint32(addr), raw.KeyLen, span), nil)
	}
	entry.key = keyArea[:raw.KeyLen]

	return entry, nil
}

// entrySpan returns how many contiguous 256-byte records an inline key of the
// given length occupies.
func entrySpan(keyLen int32) int {
	span := 1
	for rest := int(keyLen) - shortKeyCapacity; rest > 0; rest -= entryBlockSize {
		span++
	}
	return span
}

// Key returns the inline key, or "" when the key is stored out of line.
func (e *EntryStore) Key() string {
	return string(e.key)
}

// IsLongURL reports whether the entry's key is stored out of line: the long
// key address must be initialized and of the external kind.
func (e *EntryStore) IsLongURL() bool {
	return e.LongKey.IsInitialized() && e.LongKey.FileKind() == KindExternal
}

// ReadLongURL resolves the out-of-line key from the secondary block file.
// Callers are responsible for checking that the long key's file number
// matches the secondary file first; real caches sometimes point long keys at
// data_3, and silently misreading those would yield garbage URLs.
func (e *EntryStore) ReadLongURL(secondary *BlockFile) (string, error) {
	if !e.IsLongURL() {
		return "", core.NewCacheFormatError("entry has no long key", nil)
	}
	data, err := secondary.ReadData(e.LongKey, uint32(e.KeyLen))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
