// Package gachaurl recovers gacha authorization URLs from a game client's
// embedded-browser disk cache.
package gachaurl

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gachavault/internal/core"
)

// webCachesVersion is a version-named cache subdirectory: major.minor.patch
// with an optional build component, all u8.
type webCachesVersion struct {
	major, minor, patch uint8
	build               uint8
	hasBuild            bool
}

func parseWebCachesVersion(name string) (webCachesVersion, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 && len(parts) != 4 {
		return webCachesVersion{}, false
	}

	nums := make([]uint8, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return webCachesVersion{}, false
		}
		nums[i] = uint8(n)
	}

	v := webCachesVersion{major: nums[0], minor: nums[1], patch: nums[2]}
	if len(nums) == 4 {
		v.build = nums[3]
		v.hasBuild = true
	}
	return v, true
}

func (v webCachesVersion) less(o webCachesVersion) bool {
	a := [4]uint8{v.major, v.minor, v.patch, v.build}
	b := [4]uint8{o.major, o.minor, o.patch, o.build}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (v webCachesVersion) String() string {
	if v.hasBuild {
		return fmt.Sprintf("%d.%d.%d.%d", v.major, v.minor, v.patch, v.build)
	}
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// LookupCacheDataDir locates the newest versioned cache data directory under
// gameDataDir: webCaches/<version>/Cache/Cache_Data, where <version> is the
// numerically greatest valid version name. A missing webCaches directory or
// no valid version subdirectory is a cache-not-found error.
func LookupCacheDataDir(gameDataDir string) (string, error) {
	webCachesDir := filepath.Join(gameDataDir, "webCaches")
	entries, err := os.ReadDir(webCachesDir)
	if err != nil {
		return "", core.NewCacheNotFoundError(fmt.Sprintf("no webCaches directory under %s", gameDataDir))
	}

	var latest webCachesVersion
	found := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, ok := parseWebCachesVersion(entry.Name())
		if !ok {
			continue
		}
		if !found || latest.less(v) {
			latest = v
			found = true
		}
	}
	if !found {
		return "", core.NewCacheNotFoundError(fmt.Sprintf("no versioned cache directory under %s", webCachesDir))
	}

	return filepath.Join(webCachesDir, latest.String(), "Cache", "Cache_Data"), nil
}
