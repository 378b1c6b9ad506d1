package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lanetrace/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Database string
}

// CheckResult holds the outcome of an ordering check.
type CheckResult struct {
	Events    int64                 `json:"events"`
	Ordered   bool                  `json:"ordered"`
	Violation *store.OrderViolation `json:"violation,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that a recorded trace is in timestamp order",
		Long: `Verify that recorded events never go backwards in time.

Exits with code 1 and reports the first offending pair of events if
the recorded stream is out of order.

Examples:
  lanetrace check --db ./trace.db
  lanetrace check --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	formatter.VerboseLog("Opening %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	v, n, err := st.CheckOrder(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to scan events", err)
	}
	result := CheckResult{Events: n, Ordered: v == nil, Violation: v}

	if v == nil {
		if opts.Format == "json" {
			return formatter.Success(result)
		}
		counts.Fprintf(cmd.OutOrStdout(), "OK: %d events in timestamp order\n", n)
		return nil
	}

	msg := fmt.Sprintf("event %d (lane %d, %s) recorded after event %d (lane %d, %s)",
		v.Next.Seq, v.Next.Lane, v.Next.Timestamp,
		v.Prev.Seq, v.Prev.Lane, v.Prev.Timestamp)
	if err := formatter.Error(ErrCodeOrdering, msg, result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "recorded trace is out of order")
}
