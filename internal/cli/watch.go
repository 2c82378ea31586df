package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/metrics"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Database    string
	Interval    time.Duration
	Rounds      int
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <url>...",
		Short: "Poll URLs repeatedly through one shared engine",
		Long: `Poll each URL on a fixed interval.

Each URL is watched by an independent poller that holds its own reference
on the shared engine. The worker starts with the first poller and stops
when the last one finishes. Each URL's request is resubmitted every round,
so the journal records one cycle per round under the same request ID.

With --metrics-addr, Prometheus metrics are served on /metrics and an engine
snapshot on /healthz.

Example:
  muxfetch watch --interval 10s https://example.com https://example.org
  muxfetch watch --rounds 3 --metrics-addr :9090 --db ./fetches.db https://example.com`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 5*time.Second, "delay between rounds")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 0, "rounds per URL (0: until interrupted)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address (overrides config)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, urls []string) error {
	if opts.Interval <= 0 {
		return NewExitError(ExitCommandError, "--interval must be positive")
	}
	if opts.Rounds < 0 {
		return NewExitError(ExitCommandError, "--rounds must not be negative")
	}

	reg := prometheus.NewRegistry()
	s, err := newSession(opts.RootOptions, opts.Database, fetch.WithMetrics(metrics.NewEngineMetrics(reg)))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	ctx, stop := signalContext(cmd)
	defer stop()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.Engine.MetricsAddr
	}
	if addr != "" {
		shutdown, err := serveMonitor(addr, newMonitorRouter(s.engine, reg))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start monitor", err)
		}
		defer shutdown()
	}

	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	var outMu sync.Mutex
	emit := func(o FetchOutcome) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := f.Success(FetchReport{Fetches: []FetchOutcome{o}}); err != nil {
			slog.Error("write outcome failed", "error", err)
		}
	}

	errs := make([]error, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			errs[i] = watchURL(ctx, s, u, opts, emit)
		}(i, u)
	}
	wg.Wait()

	for _, err := range errs {
		if fetch.IsInitError(err) {
			_ = f.Error(engineErrorCode(err), "engine failed to start", err.Error())
			return WrapExitError(ExitCommandError, "engine failed to start", err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	return nil
}

// watchURL is one poller: it holds an engine reference for its lifetime
// and resubmits the same request every round.
func watchURL(ctx context.Context, s *session, url string, opts *WatchOptions, emit func(FetchOutcome)) error {
	if err := s.engine.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.engine.Release(); err != nil {
			slog.Error("error releasing engine", "url", url, "error", err)
		}
	}()

	tr, err := s.newTransfer(url, nil)
	if err != nil {
		emit(FetchOutcome{URL: url, Result: fetch.ResultBadQueue.String(), Error: err.Error()})
		return nil
	}
	req := fetch.NewRequest(tr)

	for round := 1; opts.Rounds == 0 || round <= opts.Rounds; round++ {
		out := s.run(ctx, req, tr, false)
		if ctx.Err() != nil {
			return nil
		}
		emit(out)

		if opts.Rounds != 0 && round == opts.Rounds {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.Interval):
		}
	}
	return nil
}

// serveMonitor starts an HTTP server on addr and returns its shutdown func.
func serveMonitor(addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("monitor listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("monitor server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("monitor shutdown failed", "error", err)
		}
	}, nil
}
