package core

import (
	"fmt"
	"time"
)

// Facet identifies one supported game. Everything facet-specific lives in the
// profile table below as data; there are no per-facet code paths.
type Facet string

const (
	FacetGenshin  Facet = "genshin"
	FacetStarRail Facet = "starrail"
	FacetZenless  Facet = "zzz"
)

// LogSource names one place a game writes its client log, plus the install
// path marker to look for inside it.
type LogSource struct {
	// Vendor is the directory under AppData/LocalLow, e.g. "miHoYo".
	Vendor string
	// Title is the game directory under the vendor directory. CN and
	// global releases install under different titles.
	Title string
	// LogFile is the log file name within the title directory.
	LogFile string
	// Keyword marks the game install path inside a log line, e.g.
	// "/GenshinImpact_Data/".
	Keyword string
}

type facetProfile struct {
	endpoint       string
	gachaTypeField string
	partitions     []string
	exchangeFormat string
	logSources     []LogSource
}

var facetProfiles = map[Facet]facetProfile{
	FacetGenshin: {
		endpoint:       "/event/gacha_info/api/getGachaLog?",
		gachaTypeField: "gacha_type",
		partitions:     []string{"100", "200", "301", "302", "500"},
		exchangeFormat: "UIGF",
		logSources: []LogSource{
			{Vendor: "miHoYo", Title: "原神", LogFile: "output_log.txt", Keyword: "/YuanShen_Data/"},
			{Vendor: "miHoYo", Title: "Genshin Impact", LogFile: "output_log.txt", Keyword: "/GenshinImpact_Data/"},
		},
	},
	FacetStarRail: {
		endpoint:       "/common/gacha_record/api/getGachaLog?",
		gachaTypeField: "gacha_type",
		partitions:     []string{"1", "2", "11", "12"},
		exchangeFormat: "SRGF",
		logSources: []LogSource{
			{Vendor: "miHoYo", Title: "崩坏：星穹铁道", LogFile: "Player.log", Keyword: "/StarRail_Data/"},
			{Vendor: "Cognosphere", Title: "Star Rail", LogFile: "Player.log", Keyword: "/StarRail_Data/"},
		},
	},
	FacetZenless: {
		endpoint: "/common/gacha_record/api/getGachaLog?",
		// zzz distinguishes the pity-sharing type from the banner type and
		// filters by the former.
		gachaTypeField: "real_gacha_type",
		partitions:     []string{"1", "2", "3", "5"},
		// No community interchange format has been settled for zzz records;
		// import/export is capability-gated off rather than guessed at.
		exchangeFormat: "",
		logSources: []LogSource{
			{Vendor: "miHoYo", Title: "绝区零", LogFile: "Player.log", Keyword: "/ZenlessZoneZero_Data/"},
			{Vendor: "Cognosphere", Title: "ZenlessZoneZero", LogFile: "Player.log", Keyword: "/ZenlessZoneZero_Data/"},
		},
	},
}

// Facets lists the supported facets in a stable order.
func Facets() []Facet {
	return []Facet{FacetGenshin, FacetStarRail, FacetZenless}
}

// ParseFacet validates a user-supplied facet name.
func ParseFacet(s string) (Facet, error) {
	f := Facet(s)
	if _, ok := facetProfiles[f]; !ok {
		return "", fmt.Errorf("unknown facet %q (want one of genshin, starrail, zzz)", s)
	}
	return f, nil
}

// Valid reports whether the facet is one of the supported variants.
func (f Facet) Valid() bool {
	_, ok := facetProfiles[f]
	return ok
}

// Endpoint returns the gacha-log API path substring identifying this facet's
// requests inside the browser cache.
func (f Facet) Endpoint() string {
	return facetProfiles[f].endpoint
}

// GachaTypeField returns the query-parameter name carrying the gacha type.
func (f Facet) GachaTypeField() string {
	return facetProfiles[f].gachaTypeField
}

// Partitions returns the facet's record-type partitions (gacha types) in
// fetch order.
func (f Facet) Partitions() []string {
	src := facetProfiles[f].partitions
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ExchangeFormat names the interchange format for record import/export, or
// "" when the facet has none.
func (f Facet) ExchangeFormat() string {
	return facetProfiles[f].exchangeFormat
}

// CanExchange reports whether record import/export is supported. Callers
// must check this before invoking either operation.
func (f Facet) CanExchange() bool {
	return facetProfiles[f].exchangeFormat != ""
}

// LogSources returns the client-log locations used for game-directory
// discovery.
func (f Facet) LogSources() []LogSource {
	src := facetProfiles[f].logSources
	out := make([]LogSource, len(src))
	copy(out, src)
	return out
}

// ServerLocation derives the game server's timezone from the account uid.
// America and Europe servers run at fixed offsets; every other region,
// including the CN servers, runs at UTC+8. Record timestamps returned by the
// remote API are wall-clock times in this zone.
func (f Facet) ServerLocation(uid string) *time.Location {
	switch regionDigit(uid) {
	case '6':
		return time.FixedZone("UTC-5", -5*60*60)
	case '7':
		return time.FixedZone("UTC+1", 1*60*60)
	default:
		return time.FixedZone("UTC+8", 8*60*60)
	}
}

// regionDigit returns the uid digit that encodes the server region: the
// leading digit for 9-digit uids, the second for the longer uids newer
// accounts receive.
func regionDigit(uid string) byte {
	if len(uid) == 0 {
		return 0
	}
	if len(uid) > 9 {
		return uid[1]
	}
	return uid[0]
}
