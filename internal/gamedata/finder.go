// Package gamedata locates a game's data directory on the local machine by
// scanning the client logs the game writes outside its install dir. The rest
// of the pipeline only sees the Finder interface, so platform conventions
// stay contained here.
package gamedata

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gachavault/internal/core"
)

// Finder resolves the facet's game data directory (the directory containing
// webCaches), or fails with CacheNotFound when no installed game is found.
type Finder interface {
	FindDataDir(facet core.Facet) (string, error)
}

// New returns the Finder for the current platform.
func New() Finder {
	if runtime.GOOS == "windows" {
		home, err := os.UserHomeDir()
		if err != nil {
			return unsupportedFinder{reason: fmt.Sprintf("resolve user profile: %v", err)}
		}
		return NewWindowsFinder(home)
	}
	return unsupportedFinder{reason: fmt.Sprintf("game data discovery is not supported on %s", runtime.GOOS)}
}

// WindowsFinder scans the vendor client logs under AppData/LocalLow. The
// game logs its own absolute install path on startup; the line containing
// the facet's install-dir keyword carries the data directory.
type WindowsFinder struct {
	home string
}

// NewWindowsFinder creates a finder rooted at the given user profile
// directory.
func NewWindowsFinder(home string) *WindowsFinder {
	return &WindowsFinder{home: home}
}

// FindDataDir tries each of the facet's known log locations in order. CN and
// global releases write to different vendor/title directories; the first log
// naming an existing-looking install path wins.
func (f *WindowsFinder) FindDataDir(facet core.Facet) (string, error) {
	for _, src := range facet.LogSources() {
		logPath := filepath.Join(f.home, "AppData", "LocalLow", src.Vendor, src.Title, src.LogFile)
		dir, err := scanLogForDataDir(logPath, src.Keyword)
		if err != nil {
			return "", err
		}
		if dir != "" {
			return dir, nil
		}
	}
	return "", core.NewCacheNotFoundError(fmt.Sprintf("no %s client log mentions an install directory", facet))
}

// scanLogForDataDir returns the first data directory mentioned in the log
// file, or "" when the file is missing or never names one.
func scanLogForDataDir(logPath, keyword string) (string, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open client log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Unity logs occasionally emit very long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if dir, ok := DataDirFromLogLine(scanner.Text(), keyword); ok {
			return dir, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read client log: %w", err)
	}
	return "", nil
}

// DataDirFromLogLine slices the absolute game data path out of one log line.
// The path starts at the drive letter (the character before the last colon
// preceding the keyword) and ends with the keyword itself, e.g.
//
//	Warming up shader cache: C:/Games/Genshin Impact/GenshinImpact_Data/...
//
// yields C:/Games/Genshin Impact/GenshinImpact_Data.
func DataDirFromLogLine(line, keyword string) (string, bool) {
	end := strings.Index(line, keyword)
	if end < 0 {
		return "", false
	}
	colon := strings.LastIndex(line[:end], ":")
	if colon < 1 {
		return "", false
	}
	dir := line[colon-1 : end+len(keyword)]
	return strings.TrimRight(dir, "/\\"), true
}

type unsupportedFinder struct {
	reason string
}

func (f unsupportedFinder) FindDataDir(core.Facet) (string, error) {
	return "", core.NewUnsupportedError(f.reason)
}
