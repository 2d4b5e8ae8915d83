package diskcache

import "time"

// Entry creation times are Windows FILETIME values: 100 ns ticks counted
// from 1601-01-01 UTC, which sits 11 644 473 600 seconds before the Unix
// epoch.
const (
	ticksPerSecond     = 10_000_000
	windowsEpochOffset = 11_644_473_600
)

// CreationTime converts a FILETIME tick count to a time.Time in the given
// location. Sub-second precision is dropped, matching the remote API's
// second-granularity timestamps.
func CreationTime(ticks uint64, loc *time.Location) time.Time {
	seconds := int64(ticks/ticksPerSecond) - windowsEpochOffset
	return time.Unix(seconds, 0).In(loc)
}
