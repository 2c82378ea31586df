package httpfetch

import (
	"net/http"
	"time"
)

// Options describes one HTTP request.
type Options struct {
	URL    string
	Method string
	Header http.Header

	// Cookies are "name=value" pairs sent with the request.
	Cookies []string

	UserAgent string

	// Username and Password enable basic authentication when Username is set.
	Username string
	Password string

	// FollowRedirects follows 3xx responses up to MaxRedirects (-1: no limit).
	FollowRedirects bool
	MaxRedirects    int

	// AcceptCompressed lets the transport negotiate gzip.
	AcceptCompressed bool

	// Timeout bounds the whole transfer, retries included. Zero disables it.
	Timeout time.Duration

	// Retries is how many extra attempts follow a connection failure or a
	// 5xx response.
	Retries int

	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration

	// MaxBodyBytes caps how much of the body is kept. Zero keeps all of it.
	MaxBodyBytes int64
}

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "muxfetch/1.0"

// DefaultOptions returns the per-request defaults.
func DefaultOptions() Options {
	return Options{
		Method:           http.MethodGet,
		UserAgent:        DefaultUserAgent,
		FollowRedirects:  true,
		MaxRedirects:     -1,
		AcceptCompressed: true,
		RetryInterval:    200 * time.Millisecond,
	}
}

// withDefaults fills zero-valued string and duration fields from d.
// Booleans and counts are taken as given.
func (o Options) withDefaults(d Options) Options {
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.Username == "" {
		o.Username, o.Password = d.Username, d.Password
	}
	if len(o.Cookies) == 0 {
		o.Cookies = d.Cookies
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = d.MaxBodyBytes
	}
	if len(d.Header) > 0 {
		h := d.Header.Clone()
		for k, v := range o.Header {
			h[k] = v
		}
		o.Header = h
	}
	return o
}
