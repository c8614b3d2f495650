package infra

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	// DefaultHTTPTimeout é o timeout padrão das requisições de polling.
	DefaultHTTPTimeout = 10 * time.Second

	UserAgent = "rental-admin-sync/1.0"
)

type HTTPClientConfig struct {
	Timeout time.Duration
	// EnableHTTP2 multiplexa as requisições numa única conexão TLS com o backend.
	EnableHTTP2        bool
	InsecureSkipVerify bool
	// MaxConnsPerHost limita conexões HTTP/1.1 abertas para o mesmo backend (0 = sem limite).
	MaxConnsPerHost int
	// Wrap permite encaixar middlewares de saída (ex: GateTransport, ThrottleTransport).
	Wrap func(http.RoundTripper) http.RoundTripper
}

// NewHTTPClient monta o *http.Client usado pelo HTTPFetcher.
func NewHTTPClient(cfg HTTPClientConfig) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in para ambientes de desenvolvimento
			MinVersion:         tls.VersionTLS12,
		},
	}
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(base); err != nil {
			return nil, fmt.Errorf("configure http2 transport: %w", err)
		}
	}

	var rt http.RoundTripper = base
	if cfg.Wrap != nil {
		rt = cfg.Wrap(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}, nil
}
