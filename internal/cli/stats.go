package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lanetrace/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// StatsResult holds recorded counters.
type StatsResult struct {
	Events   int64           `json:"events"`
	Sessions int             `json:"sessions"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show counters of a recorded trace",
		Long: `Show the number of recorded events and sessions together with the
last buffer snapshot (delivered and lost counters).

Examples:
  lanetrace stats --db ./trace.db
  lanetrace stats --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	formatter.VerboseLog("Opening %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	n, err := st.CountEvents(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to count events", err)
	}
	sessions, err := st.ReadSessions(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read sessions", err)
	}
	result := StatsResult{Events: n, Sessions: len(sessions)}

	snap, err := st.LatestSnapshot(ctx)
	switch {
	case err == nil:
		result.Snapshot = &snap
	case errors.Is(err, store.ErrNotFound):
	default:
		return commandError(formatter, ErrCodeStore, "failed to read snapshot", err)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	counts.Fprintf(w, "events:    %d\n", result.Events)
	counts.Fprintf(w, "sessions:  %d\n", result.Sessions)
	if result.Snapshot == nil {
		fmt.Fprintln(w, "snapshot:  none")
		return nil
	}
	counts.Fprintf(w, "lanes:     %d x %d bytes (%s)\n", snap.Lanes, snap.LaneSize, snap.Policy)
	counts.Fprintf(w, "delivered: %d\n", snap.Delivered)
	counts.Fprintf(w, "lost:      %d\n", snap.Lost)
	fmt.Fprintf(w, "taken at:  %s\n", snap.TakenAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
