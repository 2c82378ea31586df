package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/httpfetch"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Database    string
	Method      string
	Headers     []string
	Timeout     time.Duration
	Retries     int
	CancelAfter time.Duration
	Body        bool
}

// FetchReport is the payload of a fetch command.
type FetchReport struct {
	Fetches []FetchOutcome `json:"fetches"`
}

// RenderText implements TextRenderer.
func (r FetchReport) RenderText(w io.Writer) error {
	for _, o := range r.Fetches {
		if err := renderOutcome(w, o); err != nil {
			return err
		}
		if o.Body != "" {
			if _, err := fmt.Fprintln(w, o.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch URLs concurrently through one engine",
		Long: `Fetch one or more URLs concurrently.

Every URL is submitted by its own goroutine to a shared engine, whose single
worker multiplexes the transfers. Results print in argument order.

The command exits 1 if any fetch was removed, shut down, or failed at the
transport level. HTTP error statuses are reported but are not failures.

Example:
  muxfetch fetch https://example.com https://example.org
  muxfetch fetch --cancel-after 2s --db ./fetches.db https://slow.example.com`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "", "HTTP method (default GET)")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, `extra header "Name: value" (repeatable)`)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "overall transfer timeout (overrides config)")
	cmd.Flags().IntVar(&opts.Retries, "retries", 0, "extra attempts on connection failure or 5xx (overrides config)")
	cmd.Flags().DurationVar(&opts.CancelAfter, "cancel-after", 0, "cancel fetches still outstanding after this long")
	cmd.Flags().BoolVar(&opts.Body, "body", false, "include response bodies in the output")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *FetchOptions, urls []string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	header, err := parseHeaders(opts.Headers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid header", err)
	}
	adjust := func(o *httpfetch.Options) {
		if opts.Method != "" {
			o.Method = strings.ToUpper(opts.Method)
		}
		if len(header) > 0 {
			if o.Header == nil {
				o.Header = make(http.Header)
			}
			for k, vs := range header {
				o.Header[k] = vs
			}
		}
		if cmd.Flags().Changed("timeout") {
			o.Timeout = opts.Timeout
		}
		if cmd.Flags().Changed("retries") {
			o.Retries = opts.Retries
		}
	}

	s, err := newSession(opts.RootOptions, opts.Database)
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

	if err := s.engine.Acquire(ctx); err != nil {
		_ = f.Error(engineErrorCode(err), "engine failed to start", err.Error())
		return WrapExitError(ExitCommandError, "engine failed to start", err)
	}
	defer func() {
		if relErr := s.engine.Release(); relErr != nil {
			slog.Error("error releasing engine", "error", relErr)
		}
	}()

	report := FetchReport{Fetches: make([]FetchOutcome, len(urls))}
	var wg sync.WaitGroup
	for i, u := range urls {
		tr, err := s.newTransfer(u, adjust)
		if err != nil {
			report.Fetches[i] = FetchOutcome{
				URL:    u,
				Result: fetch.ResultBadQueue.String(),
				Error:  err.Error(),
			}
			continue
		}
		req := fetch.NewRequest(tr)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fctx := ctx
			if opts.CancelAfter > 0 {
				// Submit withdraws the request itself once fctx ends, so
				// the cancellation cannot land before admission.
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(ctx, opts.CancelAfter)
				defer cancel()
			}
			report.Fetches[i] = s.run(fctx, req, tr, opts.Body)
		}(i)
	}
	wg.Wait()

	if err := f.Success(report); err != nil {
		return err
	}

	failed := 0
	for _, o := range report.Fetches {
		if !o.OK() {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d fetches did not complete", failed, len(urls)))
	}
	return nil
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: expected \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

// signalContext returns the command's context, cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// engineErrorCode maps an engine error onto a CLI error code.
func engineErrorCode(err error) string {
	if fetch.IsInitError(err) {
		return string(fetch.ErrCodeInitFailed)
	}
	return "ENGINE_ERROR"
}
