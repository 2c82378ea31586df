package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/httpfetch"
)

// Scenario defines a conformance scenario: a set of concurrent requests
// against the test origin, optional cancellations and an optional early
// release, with the results every cycle must resolve to.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Requests are submitted concurrently, one goroutine each.
	Requests []RequestStep `yaml:"requests"`

	// ReleaseAfter drops the harness's engine reference after this long,
	// shutting the worker down while requests may still be outstanding.
	ReleaseAfter string `yaml:"release_after,omitempty"`

	// Expect maps request names to the outcome every cycle must have.
	Expect map[string]Expectation `yaml:"expect"`
}

// RequestStep is one caller.
type RequestStep struct {
	// Name identifies the request in expectations and the trace.
	Name string `yaml:"name"`

	// Path is resolved against the test origin. Exactly one of Path and
	// URL is required.
	Path string `yaml:"path,omitempty"`

	// URL is used as is (e.g. an unreachable address).
	URL string `yaml:"url,omitempty"`

	// Method defaults to GET.
	Method string `yaml:"method,omitempty"`

	// Rounds resubmits the same request this many times. Default 1.
	Rounds int `yaml:"rounds,omitempty"`

	// CancelAfter cancels the request from a second goroutine.
	CancelAfter string `yaml:"cancel_after,omitempty"`

	// Timeout bounds the transfer, retries included.
	Timeout string `yaml:"timeout,omitempty"`

	// Retries on connection failure or 5xx.
	Retries int `yaml:"retries,omitempty"`

	// NoFollow disables redirect following.
	NoFollow bool `yaml:"no_follow,omitempty"`
}

// Expectation is a subset match: zero fields are not checked.
type Expectation struct {
	Result         string `yaml:"result"`
	Status         int    `yaml:"status,omitempty"`
	Class          string `yaml:"class,omitempty"`
	Attempts       int    `yaml:"attempts,omitempty"`
	BodyContains   string `yaml:"body_contains,omitempty"`
	TransportError bool   `yaml:"transport_error,omitempty"`
}

// target returns what the trace records for the step.
func (r RequestStep) target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Path
}

func (r RequestStep) rounds() int {
	if r.Rounds <= 0 {
		return 1
	}
	return r.Rounds
}

// options builds transfer options for the step against baseURL.
func (r RequestStep) options(baseURL string) httpfetch.Options {
	o := httpfetch.DefaultOptions()
	o.URL = r.URL
	if r.Path != "" {
		o.URL = strings.TrimSuffix(baseURL, "/") + r.Path
	}
	if r.Method != "" {
		o.Method = strings.ToUpper(r.Method)
	}
	o.Timeout = mustDuration(r.Timeout)
	o.Retries = r.Retries
	o.RetryInterval = 10 * time.Millisecond
	o.FollowRedirects = !r.NoFollow
	return o
}

// mustDuration parses a duration validated by LoadScenario; empty is zero.
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q", s))
	}
	return d
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "cancel_afer:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Requests) == 0 {
		return fmt.Errorf("requests list is required and must be non-empty")
	}
	if err := validateDuration("release_after", s.ReleaseAfter); err != nil {
		return err
	}

	names := make(map[string]bool, len(s.Requests))
	for i, r := range s.Requests {
		if r.Name == "" {
			return fmt.Errorf("requests[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("requests[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = true

		if (r.Path == "") == (r.URL == "") {
			return fmt.Errorf("requests[%d]: exactly one of path and url is required", i)
		}
		if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("requests[%d]: path must start with /", i)
		}
		if r.Rounds < 0 {
			return fmt.Errorf("requests[%d]: rounds must be non-negative", i)
		}
		if r.Retries < 0 {
			return fmt.Errorf("requests[%d]: retries must be non-negative", i)
		}
		if r.CancelAfter != "" && r.rounds() > 1 {
			return fmt.Errorf("requests[%d]: cancel_after cannot be combined with rounds", i)
		}
		if err := validateDuration(fmt.Sprintf("requests[%d].cancel_after", i), r.CancelAfter); err != nil {
			return err
		}
		if err := validateDuration(fmt.Sprintf("requests[%d].timeout", i), r.Timeout); err != nil {
			return err
		}
	}

	if len(s.Expect) == 0 {
		return fmt.Errorf("expect is required and must be non-empty")
	}
	for name, e := range s.Expect {
		if !names[name] {
			return fmt.Errorf("expect[%s]: no such request", name)
		}
		if _, err := fetch.ParseResult(e.Result); err != nil {
			return fmt.Errorf("expect[%s]: %w", name, err)
		}
	}
	return nil
}

func validateDuration(field, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive", field)
	}
	return nil
}
