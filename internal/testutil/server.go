package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is an HTTP origin for transfer tests.
//
// Routes:
//
//	GET /status/{code}        responds with code and body "status {code}"
//	GET /stall                sends headers, then never finishes the body
//	GET /slow/{ms}            waits ms milliseconds, then 200
//	GET /redirect/{n}         redirects n times, then lands on /status/200
//	GET /flaky/{failures}     503 for the first failures hits, then 200
//	GET /echo                 JSON of the request's method, headers, cookies
//	GET /content-type         200 with a Content-Type containing non-printable runes
type Server struct {
	*httptest.Server

	hits    sync.Map // path -> *atomic.Int64
	release chan struct{}
}

// NewServer starts a Server and closes it at test cleanup. Stalled handlers
// are released before the server shuts down.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{release: make(chan struct{})}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status/{code}", s.status)
	r.Get("/stall", s.stall)
	r.Get("/slow/{ms}", s.slow)
	r.Get("/redirect/{n}", s.redirect)
	r.Get("/flaky/{failures}", s.flaky)
	r.Get("/echo", s.echo)
	r.Get("/content-type", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain;\t charset=utf-8\u00a0")
		fmt.Fprint(w, "ok")
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	t.Cleanup(func() { close(s.release) })
	return s
}

// URLFor returns the absolute URL for path.
func (s *Server) URLFor(path string) string {
	return s.Server.URL + path
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int64 {
	if v, ok := s.hits.Load(path); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

func (s *Server) count(r *http.Request) int64 {
	v, _ := s.hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "bad status code", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, "status %d", code)
}

func (s *Server) stall(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	select {
	case <-r.Context().Done():
	case <-s.release:
	}
}

func (s *Server) slow(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	ms, err := strconv.Atoi(chi.URLParam(r, "ms"))
	if err != nil {
		http.Error(w, "bad delay", http.StatusBadRequest)
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		fmt.Fprint(w, "slow")
	case <-r.Context().Done():
	case <-s.release:
	}
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "bad redirect count", http.StatusBadRequest)
		return
	}
	next := "/status/200"
	if n > 1 {
		next = fmt.Sprintf("/redirect/%d", n-1)
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) flaky(w http.ResponseWriter, r *http.Request) {
	hit := s.count(r)
	failures, err := strconv.ParseInt(chi.URLParam(r, "failures"), 10, 64)
	if err != nil {
		http.Error(w, "bad failure count", http.StatusBadRequest)
		return
	}
	if hit <= failures {
		http.Error(w, "try again", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprint(w, "recovered")
}

func (s *Server) echo(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	user, pass, _ := r.BasicAuth()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"method":          r.Method,
		"user_agent":      r.UserAgent(),
		"accept_encoding": r.Header.Get("Accept-Encoding"),
		"x_test":          r.Header.Get("X-Test"),
		"cookies":         cookies,
		"user":            user,
		"password":        pass,
	})
}
