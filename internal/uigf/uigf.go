// Package uigf reads and writes the community gacha-record interchange
// formats: UIGF for Genshin and SRGF for Star Rail. Zenless has no settled
// format yet and is rejected up front.
package uigf

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"gachavault/internal/core"
	"gachavault/internal/version"
)

// Format versions written on export. Older minor versions are accepted on
// import as long as the document shape matches.
const (
	UIGFVersion = "v2.3"
	SRGFVersion = "v1.0"
)

const timeLayout = "2006-01-02 15:04:05"

// info is the metadata block shared by both formats. SRGF adds the region
// timezone; UIGF adds a human-readable export time.
type info struct {
	UID              string `json:"uid"`
	Lang             string `json:"lang"`
	ExportTime       string `json:"export_time,omitempty"`
	ExportTimestamp  int64  `json:"export_timestamp"`
	ExportApp        string `json:"export_app"`
	ExportAppVersion string `json:"export_app_version"`
	UIGFVersion      string `json:"uigf_version,omitempty"`
	SRGFVersion      string `json:"srgf_version,omitempty"`
	RegionTimeZone   *int   `json:"region_time_zone,omitempty"`
}

// entry is one record in either format's list. UIGF carries the extra
// uigf_gacha_type column; SRGF carries gacha_id.
type entry struct {
	UIGFGachaType string `json:"uigf_gacha_type,omitempty"`
	GachaType     string `json:"gacha_type"`
	GachaID       string `json:"gacha_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
	Count         string `json:"count,omitempty"`
	Time          string `json:"time"`
	Name          string `json:"name"`
	Lang          string `json:"lang,omitempty"`
	ItemType      string `json:"item_type,omitempty"`
	RankType      string `json:"rank_type,omitempty"`
	ID            string `json:"id"`
}

type document struct {
	Info info    `json:"info"`
	List []entry `json:"list"`
}

// uigfGachaType folds the gacha type onto the pity-sharing column UIGF keys
// analysis on: the chronicled wish (400) shares its pity with the character
// wish (301).
func uigfGachaType(gachaType string) string {
	if gachaType == "400" {
		return "301"
	}
	return gachaType
}

// Filename returns the export file name for one account:
// <App>_<FORMAT>_<uid>_<yyyymmdd_HHMMSS>.json.
func Filename(facet core.Facet, uid string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.json",
		version.AppName, facet.ExchangeFormat(), uid, now.Format("20060102_150405"))
}

// Export writes the account's records to w in the facet's interchange
// format. Records must already be ordered by id ascending, as Find returns
// them.
func Export(w io.Writer, facet core.Facet, uid, lang string, records []core.Record, now time.Time) error {
	if !facet.CanExchange() {
		return core.NewUnsupportedError(fmt.Sprintf("facet %s has no record interchange format", facet))
	}
	if lang == "" {
		lang = firstLang(records)
	}

	loc := facet.ServerLocation(uid)
	doc := document{
		Info: info{
			UID:              uid,
			Lang:             lang,
			ExportTimestamp:  now.Unix(),
			ExportApp:        version.AppName,
			ExportAppVersion: version.Version,
		},
		List: make([]entry, 0, len(records)),
	}

	switch facet.ExchangeFormat() {
	case "UIGF":
		doc.Info.UIGFVersion = UIGFVersion
		doc.Info.ExportTime = now.In(loc).Format(timeLayout)
	case "SRGF":
		doc.Info.SRGFVersion = SRGFVersion
		_, offsetSeconds := now.In(loc).Zone()
		tz := offsetSeconds / 3600
		doc.Info.RegionTimeZone = &tz
	}

	for _, r := range records {
		e := entry{
			GachaType: r.GachaType,
			GachaID:   r.GachaID,
			ItemID:    r.ItemID,
			Count:     r.Count,
			Time:      r.Time,
			Name:      r.Name,
			Lang:      r.Lang,
			ItemType:  r.ItemType,
			RankType:  r.RankType,
			ID:        r.ID,
		}
		if facet.ExchangeFormat() == "UIGF" {
			e.UIGFGachaType = uigfGachaType(r.GachaType)
		}
		doc.List = append(doc.List, e)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

// ExportFile writes the export into dir under the canonical file name and
// returns the full path. With compress the payload is brotli-compressed and
// the file gains a .br suffix.
func ExportFile(dir string, facet core.Facet, uid, lang string, records []core.Record, now time.Time, compress bool) (string, error) {
	if !facet.CanExchange() {
		return "", core.NewUnsupportedError(fmt.Sprintf("facet %s has no record interchange format", facet))
	}

	name := Filename(facet, uid, now)
	if compress {
		name += ".br"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var bw *brotli.Writer
	if compress {
		bw = brotli.NewWriterLevel(f, brotli.BestCompression)
		w = bw
	}
	if err := Export(w, facet, uid, lang, records, now); err != nil {
		return "", err
	}
	if bw != nil {
		if err := bw.Close(); err != nil {
			return "", fmt.Errorf("flush compressed export: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}

// Import decodes an interchange document for the given account. The format
// and uid are sniffed before strict decoding so a wrong-account file fails
// with UIDMismatch rather than a parse error deep in the list.
func Import(r io.Reader, facet core.Facet, uid string) ([]core.Record, error) {
	if !facet.CanExchange() {
		return nil, core.NewUnsupportedError(fmt.Sprintf("facet %s has no record interchange format", facet))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import payload: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("import payload is not valid JSON")
	}

	fileUID := gjson.GetBytes(data, "info.uid").String()
	if fileUID != uid {
		return nil, core.NewUIDMismatchError(uid, fileUID)
	}

	versionField := "info.uigf_version"
	if facet.ExchangeFormat() == "SRGF" {
		versionField = "info.srgf_version"
	}
	if !gjson.GetBytes(data, versionField).Exists() {
		return nil, fmt.Errorf("import payload is not a %s document", facet.ExchangeFormat())
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", facet.ExchangeFormat(), err)
	}

	records := make([]core.Record, 0, len(doc.List))
	for i, e := range doc.List {
		if e.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		gachaType := e.GachaType
		if gachaType == "" {
			// Minimal UIGF writers omit gacha_type; the folded column
			// is the best recovery available.
			gachaType = e.UIGFGachaType
		}
		if gachaType == "" {
			return nil, fmt.Errorf("record %s has no gacha type", e.ID)
		}
		lang := e.Lang
		if lang == "" {
			lang = doc.Info.Lang
		}
		records = append(records, core.Record{
			ID:        e.ID,
			UID:       uid,
			GachaType: gachaType,
			GachaID:   e.GachaID,
			ItemID:    e.ItemID,
			Count:     e.Count,
			Time:      e.Time,
			Name:      e.Name,
			Lang:      lang,
			ItemType:  e.ItemType,
			RankType:  e.RankType,
		})
	}
	return records, nil
}

// ImportFile opens and decodes an interchange file, transparently
// decompressing .br exports.
func ImportFile(path string, facet core.Facet, uid string) ([]core.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".br") {
		r = brotli.NewReader(f)
	}
	return Import(r, facet, uid)
}

func firstLang(records []core.Record) string {
	for _, r := range records {
		if r.Lang != "" {
			return r.Lang
		}
	}
	return "en-us"
}
