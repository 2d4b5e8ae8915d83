package gachaurl

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/diskcache"
)

const (
	testEndpoint = "/event/gacha_info/api/getGachaLog?"

	indexHeaderSize = 368
	blockHeaderSize = 8192
	entryBlock      = 256
)

// rawEntry mirrors the fixed on-disk entry record layout.
type rawEntry struct {
	Hash         uint32
	Next         uint32
	RankingsNode uint32
	ReuseCount   int32
	RefetchCount int32
	State        int32
	CreationTime uint64
	KeyLen       int32
	LongKey      uint32
	DataSize     [4]int32
	DataAddr     [4]uint32
	Flags        uint32
	Pad          [4]int32
	SelfHash     uint32
}

func ticksAt(t time.Time) uint64 {
	return uint64(t.Unix()+11_644_473_600) * 10_000_000
}

// cacheFixture accumulates synthetic index/data_1/data_2 contents and writes
// them out as a cache data directory.
type cacheFixture struct {
	t     *testing.T
	table []diskcache.Addr
	data1 []byte
	data2 []byte
}

func newCacheFixture(t *testing.T) *cacheFixture {
	return &cacheFixture{
		t:     t,
		data1: make([]byte, 64*entryBlock),
		data2: make([]byte, 64*1024),
	}
}

// addLongURL stores url out of line in data_2 and appends a matching entry
// record to data_1. fileNumber is the file number packed into the long key
// address; point it away from data_2's declared number to simulate the
// data_3 quirk.
func (f *cacheFixture) addLongURL(url string, createdAt time.Time, fileNumber uint8) {
	f.t.Helper()

	slot := len(f.table)
	urlOffset := uint32(slot * 1024)
	copy(f.data2[urlOffset:], url)

	longKey := diskcache.MakeAddr(diskcache.KindExternal, fileNumber, urlOffset)
	entryAddr := diskcache.MakeAddr(diskcache.KindBlock256, 1, uint32(slot))

	entry := rawEntry{
		CreationTime: ticksAt(createdAt),
		KeyLen:       int32(len(url)),
		LongKey:      uint32(longKey),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &entry); err != nil {
		f.t.Fatalf("encode entry: %v", err)
	}
	copy(f.data1[slot*entryBlock:], buf.Bytes())

	f.table = append(f.table, entryAddr)
}

// addInlineEntry appends an entry whose key is stored inline, so it can
// never be a gacha url.
func (f *cacheFixture) addInlineEntry(key string, createdAt time.Time) {
	f.t.Helper()

	slot := len(f.table)
	entry := rawEntry{
		CreationTime: ticksAt(createdAt),
		KeyLen:       int32(len(key)),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &entry); err != nil {
		f.t.Fatalf("encode entry: %v", err)
	}
	buf.WriteString(key)
	copy(f.data1[slot*entryBlock:], buf.Bytes())

	f.table = append(f.table, diskcache.MakeAddr(diskcache.KindBlock256, 1, uint32(slot)))
}

// addEmptySlot appends an uninitialized index slot.
func (f *cacheFixture) addEmptySlot() {
	f.table = append(f.table, 0)
}

func (f *cacheFixture) write() string {
	f.t.Helper()
	dir := f.t.TempDir()

	var index bytes.Buffer
	for _, v := range []uint32{0xC103CAC3, 0x20001} {
		_ = binary.Write(&index, binary.LittleEndian, v)
	}
	_ = binary.Write(&index, binary.LittleEndian, int32(len(f.table))) // NumEntries
	index.Write(make([]byte, 16))                                     // NumBytes..Stats
	_ = binary.Write(&index, binary.LittleEndian, int32(len(f.table))) // TableLen
	index.Write(make([]byte, indexHeaderSize-index.Len()))
	_ = binary.Write(&index, binary.LittleEndian, f.table)

	writeBlock := func(name string, thisFile int16, data []byte) {
		var buf bytes.Buffer
		for _, v := range []uint32{0xC104CAC3, 0x20000} {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
		_ = binary.Write(&buf, binary.LittleEndian, thisFile)
		buf.Write(make([]byte, blockHeaderSize-buf.Len()))
		buf.Write(data)
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			f.t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "index"), index.Bytes(), 0o644); err != nil {
		f.t.Fatalf("write index: %v", err)
	}
	writeBlock("data_1", 1, f.data1)
	writeBlock("data_2", 2, f.data2)
	return dir
}

func TestExtractFiltersAndSorts(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	fx := newCacheFixture(t)

	fx.addEmptySlot()
	fx.addLongURL("1/0/https://api.example.com"+testEndpoint+"authkey=AAA&gacha_type=301", now.Add(-2*time.Hour), 2)
	fx.addInlineEntry("https://static.example.com/asset.png", now.Add(-time.Hour))
	fx.addLongURL("https://api.example.com"+testEndpoint+"authkey=BBB&gacha_type=302", now.Add(-time.Hour), 2)
	// Matching url but cached before the authkey validity window.
	fx.addLongURL("https://api.example.com"+testEndpoint+"authkey=OLD&gacha_type=301", now.Add(-30*time.Hour), 2)
	// Unrelated long url without the marker parameter.
	fx.addLongURL("https://api.example.com/other/api?foo=bar", now.Add(-time.Hour), 2)
	fx.addEmptySlot()

	urls, err := ExtractFromCacheDir(fx.write(), testEndpoint, true, now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2: %+v", len(urls), urls)
	}
	// Most recent first, and the 1/0/ prefix stripped.
	if want := "https://api.example.com" + testEndpoint + "authkey=BBB&gacha_type=302"; urls[0].Value != want {
		t.Errorf("urls[0] = %q, want %q", urls[0].Value, want)
	}
	if want := "https://api.example.com" + testEndpoint + "authkey=AAA&gacha_type=301"; urls[1].Value != want {
		t.Errorf("urls[1] = %q, want %q", urls[1].Value, want)
	}
	if !urls[0].CreationTime.After(urls[1].CreationTime) {
		t.Error("urls not sorted by creation time descending")
	}
}

func TestExtractKeepsExpiredWhenRequested(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	fx := newCacheFixture(t)
	fx.addLongURL("https://api.example.com"+testEndpoint+"authkey=OLD&gacha_type=301", now.Add(-48*time.Hour), 2)

	urls, err := ExtractFromCacheDir(fx.write(), testEndpoint, false, now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("got %d urls, want 1", len(urls))
	}
}

func TestExtractRejectsMismatchedLongKeyFile(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	fx := newCacheFixture(t)
	// Long key claims file 3 while the secondary file declares 2.
	fx.addLongURL("https://api.example.com"+testEndpoint+"authkey=XXX&gacha_type=301", now.Add(-time.Hour), 3)

	_, err := ExtractFromCacheDir(fx.write(), testEndpoint, true, now, time.UTC)
	if !core.IsKind(err, core.KindNoUsableURL) {
		t.Fatalf("error = %v, want no usable url", err)
	}
}

func TestExtractNoCandidatesIsAnError(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	fx := newCacheFixture(t)
	fx.addInlineEntry("https://static.example.com/asset.png", now)

	_, err := ExtractFromCacheDir(fx.write(), testEndpoint, true, now, time.UTC)
	if !core.IsKind(err, core.KindNoUsableURL) {
		t.Fatalf("error = %v, want no usable url", err)
	}
}

func TestLookupCacheDataDir(t *testing.T) {
	gameDataDir := t.TempDir()
	webCaches := filepath.Join(gameDataDir, "webCaches")
	for _, name := range []string{"2.20.1.0", "2.31.0", "2.6.0.0", "junk", "2.x.0"} {
		if err := os.MkdirAll(filepath.Join(webCaches, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	dir, err := LookupCacheDataDir(gameDataDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(webCaches, "2.31.0", "Cache", "Cache_Data")
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}
}

func TestLookupCacheDataDirMissing(t *testing.T) {
	_, err := LookupCacheDataDir(t.TempDir())
	if !core.IsKind(err, core.KindCacheNotFound) {
		t.Fatalf("error = %v, want cache not found", err)
	}

	gameDataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(gameDataDir, "webCaches", "not-a-version"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := LookupCacheDataDir(gameDataDir); !core.IsKind(err, core.KindCacheNotFound) {
		t.Fatalf("error = %v, want cache not found", err)
	}
}

func TestParseWebCachesVersionOrdering(t *testing.T) {
	a, ok := parseWebCachesVersion("2.20.1")
	if !ok {
		t.Fatal("parse 2.20.1 failed")
	}
	b, ok := parseWebCachesVersion("2.20.1.5")
	if !ok {
		t.Fatal("parse 2.20.1.5 failed")
	}
	if !a.less(b) {
		t.Error("2.20.1 should sort before 2.20.1.5")
	}
	if _, ok := parseWebCachesVersion("2.300.1"); ok {
		t.Error("components above 255 must not parse")
	}
}
