package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lanetrace/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Lane     int
	Session  string
	Limit    int
}

// DumpEvent is one event in dump output.
type DumpEvent struct {
	Seq       int64  `json:"seq"`
	Lane      int    `json:"lane"`
	Timestamp int64  `json:"ts"`
	Time      string `json:"time"`
	Session   string `json:"session"`
	Payload   string `json:"payload"`
}

// DumpResult holds the dump output.
type DumpResult struct {
	Events []DumpEvent `json:"events"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print recorded events",
		Long: `Print recorded events in delivery order.

Text output has one line per event:
  [lane]	seconds.microseconds:	payload

Examples:
  lanetrace dump --db ./trace.db
  lanetrace dump --db ./trace.db --lane 2 --limit 20
  lanetrace dump --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Lane, "lane", -1, "only events of this lane")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only events of this session")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	formatter.VerboseLog("Opening %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	f := store.Filter{SessionID: opts.Session, Limit: opts.Limit}
	if opts.Lane >= 0 {
		f.Lane = &opts.Lane
	}
	events, err := st.ReadEvents(ctx, f)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read events", err)
	}

	if opts.Format == "json" {
		result := DumpResult{Events: make([]DumpEvent, len(events))}
		for i, ev := range events {
			result.Events[i] = DumpEvent{
				Seq:       ev.Seq,
				Lane:      ev.Lane,
				Timestamp: int64(ev.Timestamp),
				Time:      ev.Timestamp.String(),
				Session:   ev.SessionID,
				Payload:   string(ev.Payload),
			}
		}
		return formatter.Success(result)
	}

	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events recorded")
		return nil
	}
	writeEventsText(cmd.OutOrStdout(), events)
	return nil
}

// writeEventsText renders events the way trace files print them.
func writeEventsText(w io.Writer, events []store.Event) {
	for _, ev := range events {
		fmt.Fprintf(w, "[%03d]\t%s:\t%s\n", ev.Lane, ev.Timestamp, ev.Payload)
	}
}
