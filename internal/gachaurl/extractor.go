package gachaurl

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/diskcache"
)

// gachaTypeMarker must appear in a cached URL for it to be a gacha history
// request; the endpoint substring alone also matches unrelated cached assets.
const gachaTypeMarker = "&gacha_type="

// cachePathPrefix is a transport artifact the client prepends to cached
// request keys.
const cachePathPrefix = "1/0/"

// FindGachaURLs locates the game's newest cache data directory and extracts
// the facet's gacha URLs from it, most recently cached first. With
// skipExpired set, URLs older than the one-day authkey validity window are
// dropped. Zero survivors is an error, not an empty success: the caller
// should prompt the user to open the in-game history screen and retry.
func FindGachaURLs(gameDataDir string, facet core.Facet, skipExpired bool) ([]core.GachaURL, error) {
	cacheDataDir, err := LookupCacheDataDir(gameDataDir)
	if err != nil {
		return nil, err
	}
	return ExtractFromCacheDir(cacheDataDir, facet.Endpoint(), skipExpired, time.Now(), time.Local)
}

// ExtractFromCacheDir walks the cache's index table and returns every fresh
// gacha URL for the endpoint, sorted descending by creation time. now and loc
// are injectable for tests; production callers pass time.Now() and
// time.Local.
func ExtractFromCacheDir(cacheDataDir, endpoint string, skipExpired bool, now time.Time, loc *time.Location) ([]core.GachaURL, error) {
	index, err := diskcache.OpenIndexFile(filepath.Join(cacheDataDir, "index"))
	if err != nil {
		return nil, err
	}
	primary, err := diskcache.OpenBlockFile(filepath.Join(cacheDataDir, "data_1"))
	if err != nil {
		return nil, err
	}
	secondary, err := diskcache.OpenBlockFile(filepath.Join(cacheDataDir, "data_2"))
	if err != nil {
		return nil, err
	}

	var result []core.GachaURL
	for _, addr := range index.Table() {
		if !addr.IsInitialized() {
			continue
		}

		entry, err := diskcache.ReadEntry(primary, addr)
		if err != nil {
			// A single corrupt slot does not invalidate the scan.
			slog.Debug("skipping unreadable cache entry", "addr", fmt.Sprintf("0x%08X", uint32(addr)), "error", err)
			continue
		}

		// Gacha URLs are long keys stored in the secondary file.
		if !entry.IsLongURL() {
			continue
		}

		// Real caches sometimes point long keys at data_3; reading those
		// offsets out of data_2 would produce garbage.
		if entry.LongKey.FileNumber() != uint8(secondary.Header.ThisFile) {
			continue
		}

		url, err := entry.ReadLongURL(secondary)
		if err != nil {
			slog.Debug("skipping unreadable long key", "addr", fmt.Sprintf("0x%08X", uint32(addr)), "error", err)
			continue
		}

		if !strings.Contains(url, endpoint) || !strings.Contains(url, gachaTypeMarker) {
			continue
		}
		url = strings.TrimPrefix(url, cachePathPrefix)

		creationTime := diskcache.CreationTime(entry.CreationTime, loc)
		if skipExpired && !creationTime.Add(24*time.Hour).After(now) {
			continue
		}

		result = append(result, core.GachaURL{
			Addr:         uint32(addr),
			CreationTime: creationTime,
			Value:        url,
		})
	}

	if len(result) == 0 {
		return nil, core.NewNoUsableURLError(
			fmt.Sprintf("no usable gacha url in %s; open the in-game history screen and retry", cacheDataDir))
	}

	// Most recent first: recency correlates with the currently-active
	// authorization.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreationTime.After(result[j].CreationTime)
	})

	return result, nil
}
