package cli

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/muxfetch/internal/fetch"
)

// engineHealth is the body of GET /healthz.
type engineHealth struct {
	Status  string `json:"status"` // "ok" while the worker runs, else "stopped"
	Refs    int    `json:"refs"`
	State   string `json:"state"`
	Queued  int    `json:"queued"`
	Active  int    `json:"active"`
	Running bool   `json:"running"`
}

// newMonitorRouter serves engine metrics and liveness.
//
// Routes:
//   - GET /metrics - Prometheus exposition of gatherer
//   - GET /healthz - engine snapshot; 503 once the worker has stopped
func newMonitorRouter(eng *fetch.Engine, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s := eng.Stats()
		h := engineHealth{
			Status:  "ok",
			Refs:    s.Refs,
			State:   s.State.String(),
			Queued:  s.Queued,
			Active:  s.Active,
			Running: s.Running,
		}
		code := http.StatusOK
		if !s.Running {
			h.Status = "stopped"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	})

	return r
}

// requestLogger logs monitor requests at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("monitor request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
