// Package httpfetch provides HTTP transfer handles for the fetch engine.
//
// A Client owns one shared http.Transport (connection pool, proxy, TLS) and
// mints Transfer handles. Each Transfer performs a single request, with
// optional retries, and keeps the response for its submitter to inspect
// once the engine resolves it.
package httpfetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// HTTP protocol versions accepted by ClientConfig.HTTPVersion.
const (
	HTTPVersionAuto = ""
	HTTPVersion11   = "1.1"
	HTTPVersion2    = "2"
)

// ClientConfig tunes the shared transport.
type ClientConfig struct {
	// Proxy is the proxy URL. Empty uses the http_proxy/https_proxy
	// environment variables.
	Proxy         string
	ProxyUser     string
	ProxyPassword string

	// KeepAlive reuses connections between transfers.
	KeepAlive bool

	// MaxConnectionsPerHost caps concurrent connections to one host.
	MaxConnectionsPerHost int

	// MaxConnections caps open connections across all hosts, idle ones
	// included. Zero means no limit.
	MaxConnections int

	// MaxConnectionTime is how long an idle connection may be kept.
	MaxConnectionTime time.Duration

	// HTTPVersion is "", "1.1" or "2".
	HTTPVersion string

	// StrictTLS verifies server certificates.
	StrictTLS bool

	// CAFile is a PEM bundle added to the system roots.
	CAFile string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

// DefaultClientConfig returns the transport defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		KeepAlive:             true,
		MaxConnectionsPerHost: 5,
		MaxConnections:        255,
		MaxConnectionTime:     30 * time.Second,
		StrictTLS:             true,
		DialTimeout:           30 * time.Second,
	}
}

// Client mints transfers that share one connection pool.
type Client struct {
	transport *http.Transport
	defaults  Options
}

// NewClient builds the shared transport. It fails if the proxy URL or the
// CA bundle is unusable.
func NewClient(cfg ClientConfig, defaults Options) (*Client, error) {
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{transport: tr, defaults: defaults}, nil
}

func newTransport(cfg ClientConfig) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	if !cfg.KeepAlive {
		dialer.KeepAlive = -1
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.StrictTLS} //nolint:gosec // opt-out is explicit configuration
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no certificates", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	proxy, err := proxyFunc(cfg)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		DisableKeepAlives:     !cfg.KeepAlive,
		MaxConnsPerHost:       cfg.MaxConnectionsPerHost,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxConnectionsPerHost,
		IdleConnTimeout:       cfg.MaxConnectionTime,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.MaxConnections > 0 {
		limiter := newConnLimiter(cfg.MaxConnections, dialer.DialContext)
		limiter.reclaim = tr.CloseIdleConnections
		tr.DialContext = limiter.DialContext
	}

	switch cfg.HTTPVersion {
	case HTTPVersionAuto, HTTPVersion2:
		tr.ForceAttemptHTTP2 = true
	case HTTPVersion11:
		// A non-nil empty map disables the transport's automatic HTTP/2.
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	default:
		return nil, fmt.Errorf("unsupported HTTP version %q", cfg.HTTPVersion)
	}

	return tr, nil
}

func proxyFunc(cfg ClientConfig) (func(*http.Request) (*url.URL, error), error) {
	if cfg.Proxy == "" {
		return http.ProxyFromEnvironment, nil
	}
	u, err := url.Parse(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}
	if cfg.ProxyUser != "" {
		u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return http.ProxyURL(u), nil
}

// NewTransfer creates a transfer for opts, filling unset fields from the
// client defaults. The URL must be absolute http or https.
func (c *Client) NewTransfer(opts Options) (*Transfer, error) {
	opts = opts.withDefaults(c.defaults)
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", opts.URL)
	}
	return &Transfer{client: c, opts: opts}, nil
}

// CloseIdleConnections drops pooled connections.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

func (c *Client) httpClient(opts Options) *http.Client {
	return &http.Client{
		Transport:     c.transport,
		CheckRedirect: redirectPolicy(opts),
	}
}

// redirectCeiling applies when MaxRedirects is negative (unlimited).
const redirectCeiling = 50

func redirectPolicy(opts Options) func(*http.Request, []*http.Request) error {
	limit := opts.MaxRedirects
	if limit < 0 {
		limit = redirectCeiling
	}
	return func(req *http.Request, via []*http.Request) error {
		if !opts.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}
