// Package httpkit provides the HTTP client construction helpers shared by
// every client that talks to a local inference-server endpoint.
package httpkit

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds the standard knobs used to build a client for one
// inference server.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// ClientDefaults holds fallback values applied when ClientConfig leaves a
// field zero.
type ClientDefaults struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultClientDefaults returns the defaults used when a caller doesn't
// override them.
func DefaultClientDefaults() ClientDefaults {
	return ClientDefaults{
		Timeout:      30 * time.Second,
		MaxBodyBytes: 8 << 20, // 8MiB; completion payloads can be large with context echoes
	}
}

// NormalizeBaseURL trims whitespace/trailing slash and validates the result
// is an absolute http(s) URL with no embedded credentials.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("base URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL must be a valid absolute URL")
	}
	if parsed.User != nil {
		return "", fmt.Errorf("base URL must not include user info")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https")
	}
	return trimmed, nil
}

// NewClient builds an *http.Client with the resolved timeout. Inference
// servers are local loopback processes, so no TLS/mTLS configuration is
// needed here — that concern belongs to whatever external collaborator
// eventually fronts this orchestrator.
func NewClient(cfg ClientConfig, defaults ClientDefaults) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaults.Timeout
	}
	return &http.Client{Timeout: timeout}
}

// NewClientWithBaseURL builds a client and returns the normalized base URL
// alongside it, the common pattern for a per-server inference client.
func NewClientWithBaseURL(cfg ClientConfig, defaults ClientDefaults) (*http.Client, string, error) {
	normalized, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("normalize base URL: %w", err)
	}
	return NewClient(cfg, defaults), normalized, nil
}

// ResolveMaxBodyBytes returns the effective max body size from config and defaults.
func ResolveMaxBodyBytes(cfg int64, defaultBytes int64) int64 {
	if cfg <= 0 {
		return defaultBytes
	}
	return cfg
}
