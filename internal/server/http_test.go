package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/orchestrator"
	"gachavault/internal/records"
	"gachavault/internal/uigf"
)

type fakeURLSource struct {
	urls []core.GachaURL
	err  error
}

func (f *fakeURLSource) FindGachaURLs(core.Facet, bool) ([]core.GachaURL, error) {
	return f.urls, f.err
}

type fakeValidator struct {
	url core.GachaURL
	err error
}

func (f *fakeValidator) Validate(context.Context, core.Facet, string, []core.GachaURL) (core.GachaURL, error) {
	return f.url, f.err
}

type fakePuller struct {
	result *orchestrator.Result
	err    error
	events []core.Progress
}

func (f *fakePuller) PullAll(_ context.Context, opts orchestrator.Options, sink core.ProgressSink) (*orchestrator.Result, error) {
	for _, ev := range f.events {
		ev.Channel = opts.Channel
		sink.Emit(ev)
	}
	return f.result, f.err
}

func testServer(urls URLSource, validator URLValidator, puller Puller, store core.RecordStore) *Server {
	if urls == nil {
		urls = &fakeURLSource{}
	}
	if validator == nil {
		validator = &fakeValidator{}
	}
	if puller == nil {
		puller = &fakePuller{result: &orchestrator.Result{}}
	}
	return New(urls, validator, puller, store)
}

func doJSON(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, testServer(nil, nil, nil, nil), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListFacets(t *testing.T) {
	rec := doJSON(t, testServer(nil, nil, nil, nil), http.MethodGet, "/v1/facets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Facets []facetInfo `json:"facets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Facets) != 3 {
		t.Fatalf("got %d facets", len(resp.Facets))
	}
	for _, f := range resp.Facets {
		if f.Name == "zzz" && f.CanExchange {
			t.Error("zzz must not advertise record exchange")
		}
		if f.Name == "genshin" && f.ExchangeFormat != "UIGF" {
			t.Errorf("genshin exchange format = %q", f.ExchangeFormat)
		}
	}
}

func TestListURLsRequiresKnownFacet(t *testing.T) {
	rec := doJSON(t, testServer(nil, nil, nil, nil), http.MethodGet, "/v1/gacha/urls?facet=unknown", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Kind != string(core.KindIllegalURL) {
		t.Errorf("error kind = %q", resp.Error.Kind)
	}
}

func TestValidateURLMapsPipelineErrors(t *testing.T) {
	s := testServer(
		&fakeURLSource{urls: []core.GachaURL{{Addr: 1, Value: "https://example.invalid/gacha"}}},
		&fakeValidator{err: core.NewNoValidURLError("no candidate matched uid 100")},
		nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/v1/gacha/url/validate",
		map[string]string{"facet": "genshin", "uid": "100"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no_valid_url") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestValidateURLReturnsConfirmedURL(t *testing.T) {
	confirmed := core.GachaURL{Addr: 7, Value: "https://example.invalid/gacha?authkey=k", CreationTime: time.Now()}
	s := testServer(
		&fakeURLSource{urls: []core.GachaURL{confirmed}},
		&fakeValidator{url: confirmed},
		nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/v1/gacha/url/validate",
		map[string]string{"facet": "genshin", "uid": "100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL core.GachaURL `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.URL.Addr != 7 {
		t.Errorf("url addr = %d", resp.URL.Addr)
	}
}

func TestPullStreamsProgressOverSSE(t *testing.T) {
	puller := &fakePuller{
		events: []core.Progress{
			{GachaType: "301", Page: 1, Fetched: 20},
			{GachaType: "301", Page: 2, Fetched: 5},
		},
		result: &orchestrator.Result{UID: "100", Fetched: 25, Inserted: 25, Net: 25},
	}
	s := testServer(nil, nil, puller, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/gacha/pull", "application/json",
		strings.NewReader(`{"facet":"genshin","uid":"100","gacha_url":"https://example.invalid/gacha?authkey=k"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("pull status = %d", resp.StatusCode)
	}
	var started struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.Channel == "" {
		t.Fatal("no channel id returned")
	}

	events, err := http.Get(ts.URL + "/v1/events/" + started.Channel)
	if err != nil {
		t.Fatal(err)
	}
	defer events.Body.Close()
	if ct := events.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	var names []string
	var lastData string
	scanner := bufio.NewScanner(events.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			lastData = data
		}
	}
	if len(names) != 3 || names[0] != "progress" || names[1] != "progress" || names[2] != "result" {
		t.Fatalf("event names = %v", names)
	}
	var result orchestrator.Result
	if err := json.Unmarshal([]byte(lastData), &result); err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 25 || result.UID != "100" {
		t.Errorf("result = %+v", result)
	}

	// The channel is gone once drained.
	gone, err := http.Get(ts.URL + "/v1/events/" + started.Channel)
	if err != nil {
		t.Fatal(err)
	}
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("second subscribe status = %d, want 404", gone.StatusCode)
	}
}

func TestPullStreamReportsFailure(t *testing.T) {
	puller := &fakePuller{err: core.NewAuthExpiredError("authkey timeout")}
	s := testServer(nil, nil, puller, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/gacha/pull", "application/json",
		strings.NewReader(`{"facet":"genshin","uid":"100","gacha_url":"https://example.invalid/gacha?authkey=k"}`))
	if err != nil {
		t.Fatal(err)
	}
	var started struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	events, err := http.Get(ts.URL + "/v1/events/" + started.Channel)
	if err != nil {
		t.Fatal(err)
	}
	defer events.Body.Close()

	body := new(strings.Builder)
	if _, err := bufio.NewReader(events.Body).WriteTo(body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.String(), "event: error") || !strings.Contains(body.String(), "authkey_expired") {
		t.Errorf("stream = %s", body.String())
	}
}

func TestRecordsEndpointsWithoutStore(t *testing.T) {
	s := testServer(nil, nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/v1/gacha/records?facet=genshin&uid=100", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestImportExportRoundTripOverHTTP(t *testing.T) {
	store := records.NewMemoryStore()
	s := testServer(nil, nil, nil, store)

	original := []core.Record{
		{ID: "1000000000000000001", UID: "100000001", GachaType: "301", Count: "1",
			Time: "2023-06-01 12:00:00", Name: "Staff of Homa", Lang: "en-us",
			ItemType: "Weapon", RankType: "5"},
	}
	var doc bytes.Buffer
	if err := uigf.Export(&doc, core.FacetGenshin, "100000001", "", original, time.Now()); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/gacha/import?facet=genshin&uid=100000001", &doc)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
	}
	var imported struct {
		Imported int `json:"imported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &imported); err != nil {
		t.Fatal(err)
	}
	if imported.Imported != 1 {
		t.Errorf("imported = %d", imported.Imported)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/gacha/records?facet=genshin&uid=100000001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("records status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Staff of Homa") {
		t.Errorf("records body = %s", rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/gacha/export?facet=genshin&uid=100000001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "GachaVault_UIGF_100000001_") {
		t.Errorf("content disposition = %q", cd)
	}
	got, err := uigf.Import(rec.Body, core.FacetGenshin, "100000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Staff of Homa" {
		t.Errorf("exported records = %+v", got)
	}
}

func TestExportRejectsFacetWithoutFormat(t *testing.T) {
	s := testServer(nil, nil, nil, records.NewMemoryStore())
	rec := doJSON(t, s, http.MethodPost, "/v1/gacha/export?facet=zzz&uid=1000001", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestImportRejectsUIDMismatch(t *testing.T) {
	store := records.NewMemoryStore()
	s := testServer(nil, nil, nil, store)

	var doc bytes.Buffer
	if err := uigf.Export(&doc, core.FacetGenshin, "100000001", "", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/gacha/import?facet=genshin&uid=100000002", &doc)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "uid_mismatch") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
