package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/config"
	"github.com/roach88/lanetrace/internal/loadgen"
	"github.com/roach88/lanetrace/internal/recorder"
	"github.com/roach88/lanetrace/internal/session"
	"github.com/roach88/lanetrace/internal/store"
	"github.com/roach88/lanetrace/internal/tracebuf"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database    string
	ConfigPath  string
	Lanes       int
	LaneSize    int
	Policy      string
	Events      int
	PayloadSize int
	BatchSize   int
	Sessions    int
	Pause       string
	Pin         bool
}

// RecordResult summarizes a record run.
type RecordResult struct {
	Database  string `json:"database"`
	Lanes     int    `json:"lanes"`
	LaneSize  int    `json:"lane_size"`
	Policy    string `json:"policy"`
	Sessions  int    `json:"sessions"`
	Attempted uint64 `json:"attempted"`
	Committed uint64 `json:"committed"`
	Dropped   uint64 `json:"dropped"`
	Markers   uint64 `json:"markers"`
	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run synthetic writers and record the merged trace",
		Long: `Run one synthetic writer per lane against a trace buffer while a
single recorder drains the buffer into a SQLite database.

Each session runs a full round of writes and then ends the trace
session, writing a session_ended marker on lane 0. The command returns
once everything written has been recorded or counted as lost.

Recording into an existing database appends to it; timestamps continue
after the last recorded one.

Examples:
  lanetrace record --db ./trace.db
  lanetrace record --db ./trace.db --lanes 8 --lane-size 4096 --policy overwrite-oldest
  lanetrace record --db ./trace.db --config lanetrace.yaml --sessions 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML configuration")
	cmd.Flags().IntVar(&opts.Lanes, "lanes", 0, "number of lanes (default: usable CPUs)")
	cmd.Flags().IntVar(&opts.LaneSize, "lane-size", config.DefaultLaneSize, "lane capacity in bytes")
	cmd.Flags().StringVar(&opts.Policy, "policy", "drop-newest", "overflow policy (drop-newest|overwrite-oldest)")
	cmd.Flags().IntVar(&opts.Events, "events", 1000, "writes per lane per session")
	cmd.Flags().IntVar(&opts.PayloadSize, "payload-size", 32, "minimum payload size in bytes")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", recorder.DefaultBatchSize, "events per store transaction")
	cmd.Flags().IntVar(&opts.Sessions, "sessions", 1, "number of trace sessions to record")
	cmd.Flags().StringVar(&opts.Pause, "pause", "0s", "pause between writes")
	cmd.Flags().BoolVar(&opts.Pin, "pin", false, "pin each writer to the CPU of its lane")

	return cmd
}

// resolveConfig merges the configuration file and explicitly set flags.
func (opts *RecordOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("lanes") {
		cfg.Lanes = opts.Lanes
	}
	if flags.Changed("lane-size") {
		cfg.LaneSize = opts.LaneSize
	}
	if flags.Changed("policy") {
		cfg.Policy = opts.Policy
	}
	if flags.Changed("events") {
		cfg.Load.EventsPerLane = opts.Events
	}
	if flags.Changed("payload-size") {
		cfg.Load.PayloadSize = opts.PayloadSize
	}
	if flags.Changed("batch") {
		cfg.Recorder.BatchSize = opts.BatchSize
	}
	if flags.Changed("sessions") {
		cfg.Load.Sessions = opts.Sessions
	}
	if flags.Changed("pause") {
		cfg.Load.Pause = opts.Pause
	}
	if flags.Changed("pin") {
		cfg.Load.Pin = opts.Pin
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := opts.resolveConfig(cmd)
	if err != nil {
		return commandError(formatter, ErrCodeConfig, "invalid configuration", err)
	}
	bcfg, err := cfg.Buffer()
	if err != nil {
		return commandError(formatter, ErrCodeConfig, "invalid configuration", err)
	}
	formatter.VerboseLog("Recording %d session(s) on %d lane(s) of %d bytes (%s)",
		cfg.Load.Sessions, bcfg.Lanes, bcfg.LaneSize, bcfg.Policy)

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	// Continue the timeline of an existing log so a second recording never
	// goes back in time.
	last, err := st.LastTimestamp(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to read database", err)
	}
	formatter.VerboseLog("Opened %s (last timestamp %s)", opts.Database, last)

	buf, err := tracebuf.New(bcfg,
		tracebuf.WithClock(clock.New(clock.NewMonotonicSourceAt(last+1))),
		tracebuf.WithLogger(slog.Default()))
	if err != nil {
		return commandError(formatter, ErrCodeBuffer, "failed to create trace buffer", err)
	}
	defer buf.Close()

	tr := session.NewTracker(buf, session.WithMarkers(0))
	rec := recorder.New(buf, st, tr, recorder.Options{BatchSize: cfg.Recorder.BatchSize})

	total, err := record(ctx, buf, tr, rec, cfg)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "recording failed", err)
	}

	result := RecordResult{
		Database:  opts.Database,
		Lanes:     bcfg.Lanes,
		LaneSize:  bcfg.LaneSize,
		Policy:    bcfg.Policy.String(),
		Sessions:  cfg.Load.Sessions,
		Attempted: total.Attempted,
		Committed: total.Committed,
		Dropped:   total.Dropped,
		Markers:   tr.Markers(),
		Delivered: rec.Delivered(),
		Lost:      buf.Lost(),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	printRecordText(cmd, result)
	return nil
}

// record runs the writers and the recorder side by side. Writers run one
// round per session; once the last round is drained the recorder is
// stopped and writes its final snapshot.
func record(ctx context.Context, buf *tracebuf.Buffer, tr *session.Tracker, rec *recorder.Recorder, cfg config.Config) (loadgen.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	recCtx, stopRecorder := context.WithCancel(gctx)
	defer stopRecorder()

	g.Go(func() error {
		return rec.Run(recCtx)
	})

	var total loadgen.Result
	g.Go(func() error {
		defer stopRecorder()
		for i := 0; i < cfg.Load.Sessions; i++ {
			res, err := loadgen.Run(gctx, buf, cfg.Loadgen())
			total.Attempted += res.Attempted
			total.Committed += res.Committed
			total.Dropped += res.Dropped
			if err != nil {
				return err
			}
			s := tr.End()
			slog.Debug("session ended", "session", s.ID, "committed", res.Committed, "dropped", res.Dropped)
		}

		drained := make(chan struct{})
		if err := buf.ScheduleAfterDrain(func() { close(drained) }); err != nil {
			return err
		}
		select {
		case <-drained:
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	return total, err
}

func printRecordText(cmd *cobra.Command, r RecordResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Recorded trace to %s\n", r.Database)
	counts.Fprintf(w, "  lanes:     %d x %d bytes (%s)\n", r.Lanes, r.LaneSize, r.Policy)
	counts.Fprintf(w, "  sessions:  %d\n", r.Sessions)
	counts.Fprintf(w, "  attempted: %d\n", r.Attempted)
	counts.Fprintf(w, "  committed: %d\n", r.Committed)
	counts.Fprintf(w, "  dropped:   %d\n", r.Dropped)
	counts.Fprintf(w, "  markers:   %d\n", r.Markers)
	counts.Fprintf(w, "  delivered: %d\n", r.Delivered)
	counts.Fprintf(w, "  lost:      %d\n", r.Lost)
}
