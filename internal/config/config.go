// Package config loads muxfetch configuration.
//
// A YAML file is decoded, unified with the embedded CUE schema (which
// rejects unknown fields, enforces ranges and fills defaults), and decoded
// into Config.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/muxfetch/internal/httpfetch"
)

//go:embed schema.cue
var schemaSource string

// Config is the effective configuration.
type Config struct {
	Engine    Engine    `json:"engine" yaml:"engine"`
	Transport Transport `json:"transport" yaml:"transport"`
	Request   Request   `json:"request" yaml:"request"`
	Log       Log       `json:"log" yaml:"log"`
}

// Engine configures the fetch worker.
type Engine struct {
	MaxPollInterval string `json:"max_poll_interval" yaml:"max_poll_interval"`
	Journal         string `json:"journal" yaml:"journal"`
	MetricsAddr     string `json:"metrics_addr" yaml:"metrics_addr"`
}

// Transport configures the shared HTTP transport.
type Transport struct {
	MaxConnections        int    `json:"max_connections" yaml:"max_connections"`
	MaxConnectionsPerHost int    `json:"max_connections_per_host" yaml:"max_connections_per_host"`
	MaxConnectionTime     int    `json:"max_connection_time" yaml:"max_connection_time"`
	KeepAlive             bool   `json:"keep_alive" yaml:"keep_alive"`
	HTTPVersion           string `json:"http_version" yaml:"http_version"`
	StrictTLS             bool   `json:"strict_tls" yaml:"strict_tls"`
	CAFile                string `json:"ca_file" yaml:"ca_file"`
	Proxy                 string `json:"proxy" yaml:"proxy"`
	ProxyUser             string `json:"proxy_user" yaml:"proxy_user"`
	ProxyPassword         string `json:"proxy_password" yaml:"proxy_password"`
}

// Request holds per-request defaults.
type Request struct {
	UserAgent        string            `json:"user_agent" yaml:"user_agent"`
	FollowRedirects  bool              `json:"follow_redirects" yaml:"follow_redirects"`
	MaxRedirects     int               `json:"max_redirects" yaml:"max_redirects"`
	Timeout          int               `json:"timeout" yaml:"timeout"`
	Retries          int               `json:"retries" yaml:"retries"`
	AcceptCompressed bool              `json:"accept_compressed" yaml:"accept_compressed"`
	Headers          map[string]string `json:"headers" yaml:"headers"`
	Cookies          []string          `json:"cookies" yaml:"cookies"`
	Username         string            `json:"username" yaml:"username"`
	Password         string            `json:"password" yaml:"password"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema rejects empty config: %v", err))
	}
	return cfg
}

// Parse validates YAML data against the schema and returns the effective
// configuration.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Engine.MaxPollInterval); err != nil {
		return nil, fmt.Errorf("invalid config: engine.max_poll_interval: %w", err)
	}
	return &cfg, nil
}

// PollInterval returns engine.max_poll_interval as a duration.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.MaxPollInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// ClientConfig maps the transport section onto httpfetch.
func (c *Config) ClientConfig() httpfetch.ClientConfig {
	cc := httpfetch.DefaultClientConfig()
	cc.MaxConnections = c.Transport.MaxConnections
	cc.MaxConnectionsPerHost = c.Transport.MaxConnectionsPerHost
	cc.MaxConnectionTime = time.Duration(c.Transport.MaxConnectionTime) * time.Second
	cc.KeepAlive = c.Transport.KeepAlive
	cc.HTTPVersion = c.Transport.HTTPVersion
	cc.StrictTLS = c.Transport.StrictTLS
	cc.CAFile = c.Transport.CAFile
	cc.Proxy = c.Transport.Proxy
	cc.ProxyUser = c.Transport.ProxyUser
	cc.ProxyPassword = c.Transport.ProxyPassword
	return cc
}

// RequestOptions maps the request section onto httpfetch defaults.
func (c *Config) RequestOptions() httpfetch.Options {
	opts := httpfetch.DefaultOptions()
	opts.UserAgent = c.Request.UserAgent
	opts.FollowRedirects = c.Request.FollowRedirects
	opts.MaxRedirects = c.Request.MaxRedirects
	opts.Timeout = time.Duration(c.Request.Timeout) * time.Second
	opts.Retries = c.Request.Retries
	opts.AcceptCompressed = c.Request.AcceptCompressed
	opts.Username = c.Request.Username
	opts.Password = c.Request.Password
	opts.Cookies = append([]string(nil), c.Request.Cookies...)
	if len(c.Request.Headers) > 0 {
		opts.Header = make(map[string][]string, len(c.Request.Headers))
		for k, v := range c.Request.Headers {
			opts.Header.Set(k, v)
		}
	}
	return opts
}

// SlogLevel returns log.level as a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
