// Package gachaclient pages the remote gacha history API using a recovered
// authorization URL, classifying the API's retcodes and retrying rate-limit
// rejections with exponential backoff.
package gachaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/httpclient"
	"gachavault/internal/observability"
)

// PageSize is the fixed page size the remote API serves.
const PageSize = 20

// Config holds fetch and retry settings.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// MaxAttempts is the total request budget per page, first try
	// included (default: 5).
	MaxAttempts int
	// InitialBackoff is the first retry delay (default: 200ms).
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential schedule (default: 10s).
	MaxBackoff time.Duration
	// BackoffFactor is the schedule multiplier (default: 2.0).
	BackoffFactor float64
}

// DefaultConfig returns the production fetch settings.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "gachavault",
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Client fetches gacha record pages. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a Client with the shared transport settings.
func New(cfg Config) *Client {
	return NewWithHTTPClient(httpclient.New(nil), cfg)
}

// NewWithHTTPClient creates a Client around a caller-supplied http.Client,
// used by tests to point at a fake API server.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	return &Client{httpClient: httpClient, config: cfg}
}

// envelope is the remote API's response wrapper. data is null on errors.
type envelope struct {
	Retcode int      `json:"retcode"`
	Message string   `json:"message"`
	Data    *payload `json:"data"`
}

// payload is one page of records.
type payload struct {
	Page   string        `json:"page"`
	Size   string        `json:"size"`
	Region string        `json:"region"`
	List   []core.Record `json:"list"`
}

// BuildPageURL rebuilds a recovered gacha URL into a single-page request.
// Everything through the facet's endpoint is kept as the base; the original
// paging parameters are dropped and replaced, while the remaining query
// parameters (the authkey among them) pass through. gachaType overrides the
// URL's own type when non-empty; endID falls back to the URL's own cursor.
func BuildPageURL(facet core.Facet, gachaURL, gachaType, endID string) (string, error) {
	endpoint := facet.Endpoint()
	start := strings.Index(gachaURL, endpoint)
	if start < 0 {
		return "", core.NewIllegalURLError(fmt.Sprintf("url does not contain the %s endpoint", facet))
	}
	base := gachaURL[:start+len(endpoint)]
	queryStr := gachaURL[start+len(endpoint):]

	queries, err := url.ParseQuery(queryStr)
	if err != nil {
		return "", core.NewIllegalURLError("url query string does not parse")
	}

	field := facet.GachaTypeField()
	originType := queries.Get(field)
	if originType == "" {
		return "", core.NewIllegalURLError(fmt.Sprintf("url is missing the %s parameter", field))
	}
	originEndID := queries.Get("end_id")

	if gachaType == "" {
		gachaType = originType
	}
	if endID == "" {
		endID = originEndID
	}

	for _, k := range []string{field, "page", "size", "begin_id", "end_id"} {
		queries.Del(k)
	}

	var sb strings.Builder
	sb.WriteString(base)
	if encoded := queries.Encode(); encoded != "" {
		sb.WriteString(encoded)
		sb.WriteByte('&')
	}
	sb.WriteString("page=1&size=")
	fmt.Fprintf(&sb, "%d", PageSize)
	sb.WriteByte('&')
	sb.WriteString(field)
	sb.WriteByte('=')
	sb.WriteString(url.QueryEscape(gachaType))
	if endID != "" {
		sb.WriteString("&end_id=")
		sb.WriteString(url.QueryEscape(endID))
	}
	return sb.String(), nil
}

// FetchPage requests one page of records, retrying rate-limit rejections.
// Records arrive newest first; a page shorter than PageSize means the
// partition is exhausted.
func (c *Client) FetchPage(ctx context.Context, facet core.Facet, gachaURL, gachaType, endID string) ([]core.Record, error) {
	pageURL, err := BuildPageURL(facet, gachaURL, gachaType, endID)
	if err != nil {
		return nil, err
	}

	env, err := c.requestWithRetry(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, nil
	}

	observability.RecordsFetched.Add(float64(len(env.Data.List)))
	return env.Data.List, nil
}

// ProbeUID issues one minimal first-page request and returns the account uid
// of the first record, or "" when the account has no records at all.
func (c *Client) ProbeUID(ctx context.Context, facet core.Facet, gachaURL string) (string, error) {
	records, err := c.FetchPage(ctx, facet, gachaURL, "", "")
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].UID, nil
}

// requestWithRetry drives a bounded retry loop over a precomputed backoff
// schedule. Only rate-limit rejections retry; exhausting the budget surfaces
// the rate-limit error itself.
func (c *Client) requestWithRetry(ctx context.Context, pageURL string) (*envelope, error) {
	schedule := c.backoffSchedule()

	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			observability.FetchRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(schedule[attempt-1]):
			}
		}

		observability.FetchAttempts.Inc()
		env, err := c.request(ctx, pageURL)
		if err == nil {
			return env, nil
		}
		if !core.IsKind(err, core.KindRateLimited) {
			return nil, err
		}

		observability.RateLimitHits.Inc()
		slog.Warn("gacha api rate limited, retrying", "attempt", attempt+1, "max", c.config.MaxAttempts)
		lastErr = err
	}

	slog.Warn("gacha api retry budget exhausted", "attempts", c.config.MaxAttempts)
	return nil, lastErr
}

// request performs one GET and interprets the response envelope.
func (c *Client) request(ctx context.Context, pageURL string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build gacha request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request gacha api: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gacha api response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode gacha api response: %w", err)
	}
	if env.Retcode != 0 {
		return nil, classifyRetcode(env.Retcode, env.Message)
	}
	return &env, nil
}

// classifyRetcode maps a non-zero remote status to an error kind. An expired
// authkey is fatal and distinct from the retryable rate limiter; everything
// else carries retcode and message verbatim.
func classifyRetcode(retcode int, message string) error {
	switch {
	case retcode == -101 || strings.Contains(message, "authkey") || strings.Contains(message, "auth key"):
		return core.NewAuthExpiredError(message)
	case retcode == -110 || strings.Contains(message, "visit too frequently"):
		return core.NewRateLimitedError(message)
	default:
		return core.NewRemoteAPIError(retcode, message)
	}
}

// backoffSchedule precomputes the delays between attempts.
func (c *Client) backoffSchedule() []time.Duration {
	schedule := make([]time.Duration, c.config.MaxAttempts-1)
	d := float64(c.config.InitialBackoff)
	for i := range schedule {
		if d > float64(c.config.MaxBackoff) {
			d = float64(c.config.MaxBackoff)
		}
		schedule[i] = time.Duration(d)
		d *= c.config.BackoffFactor
	}
	return schedule
}
