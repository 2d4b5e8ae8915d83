// Package httpclient builds the shared HTTP client used for all remote API
// traffic.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds transport settings.
type Config struct {
	// Timeout bounds one whole request, body read included.
	Timeout time.Duration

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// IdleConnTimeout is how long a keep-alive connection may sit idle.
	IdleConnTimeout time.Duration

	// MaxIdleConnsPerHost caps pooled connections per host. The gacha API
	// is a single host, so a small pool is plenty.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns settings tuned for the gacha API: small JSON
// responses from one host, behind an aggressive rate limiter.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		DialTimeout:         10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
}

// New creates an HTTP client with the given configuration, or the defaults
// when cfg is nil.
func New(cfg *Config) *http.Client {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
