package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database  string
	URL       string
	Result    string
	RequestID string
	Limit     int
}

// HistoryEntry is one journalled fetch as reported by the history command.
type HistoryEntry struct {
	RequestID   string `json:"request_id"`
	Seq         int64  `json:"seq"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	Result      string `json:"result"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	RecordedAt  string `json:"recorded_at"`
}

// HistoryReport is the payload of the history command.
type HistoryReport struct {
	Fetches []HistoryEntry `json:"fetches"`
	Totals  map[string]int `json:"totals"`
}

// RenderText implements TextRenderer.
func (r HistoryReport) RenderText(w io.Writer) error {
	if len(r.Fetches) == 0 {
		_, err := fmt.Fprintln(w, "No fetches recorded.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Recorded", "Request", "Seq", "Result", "Status", "Bytes", "URL"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, e := range r.Fetches {
		status := "-"
		if e.Status > 0 {
			status = strconv.Itoa(e.Status)
		}
		table.Append([]string{
			e.RecordedAt,
			e.RequestID,
			strconv.FormatInt(e.Seq, 10),
			e.Result,
			status,
			strconv.FormatInt(e.Bytes, 10),
			e.URL,
		})
	}
	table.Render()

	results := make([]string, 0, len(r.Totals))
	for res := range r.Totals {
		results = append(results, res)
	}
	sort.Strings(results)
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = fmt.Sprintf("%s=%d", res, r.Totals[res])
	}
	_, err := fmt.Fprintf(w, "\nTotals: %s\n", strings.Join(parts, " "))
	return err
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journalled fetches",
		Long: `Show fetches recorded in a SQLite journal, oldest first.

Totals count every journalled cycle by result, regardless of filters.

Example:
  muxfetch history --db ./fetches.db
  muxfetch history --db ./fetches.db --result REMOVED --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.URL, "url", "", "only fetches of this URL")
	cmd.Flags().StringVar(&opts.Result, "result", "", "only fetches with this result (DONE, REMOVED, SHUTDOWN, ...)")
	cmd.Flags().StringVar(&opts.RequestID, "request", "", "only cycles of this request ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N fetches")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	ctx := context.Background()

	if opts.Result != "" {
		res, err := fetch.ParseResult(strings.ToUpper(opts.Result))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --result", err)
		}
		opts.Result = res.String()
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	var rows []store.Fetch
	if opts.RequestID != "" {
		rows, err = st.ReadRequest(ctx, opts.RequestID)
	} else {
		rows, err = st.ListFetches(ctx, store.Filter{
			URL:    opts.URL,
			Result: opts.Result,
			Limit:  opts.Limit,
		})
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	totals, err := st.CountByResult(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count results", err)
	}

	report := HistoryReport{Fetches: make([]HistoryEntry, len(rows)), Totals: totals}
	for i, r := range rows {
		report.Fetches[i] = HistoryEntry{
			RequestID:   r.RequestID,
			Seq:         r.Seq,
			URL:         r.URL,
			Method:      r.Method,
			Result:      r.Result,
			Status:      r.Status,
			ContentType: r.ContentType,
			Bytes:       r.Bytes,
			Attempts:    r.Attempts,
			Error:       r.Error,
			DurationMS:  r.Duration.Milliseconds(),
			RecordedAt:  r.RecordedAt.UTC().Format(time.RFC3339),
		}
	}

	return newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(report)
}
