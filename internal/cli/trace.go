package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrace/internal/phase"
	"github.com/roach88/phasetrace/internal/report"
	"github.com/roach88/phasetrace/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // empty selects the latest run
	Moments  bool   // also list the timeline
}

// TraceStage is one stage of a traced phase.
type TraceStage struct {
	Name       string `json:"name"`
	Start      string `json:"start"`
	End        string `json:"end,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// TracePhase is one stored phase.
type TracePhase struct {
	Label  string       `json:"label"`
	Seq    int64        `json:"seq"`
	Host   string       `json:"host"`
	Stages []TraceStage `json:"stages"`
	E2EMs  *int64       `json:"e2e_ms,omitempty"`
}

// TraceMoment is one stored moment.
type TraceMoment struct {
	Time   string `json:"time"`
	Source string `json:"source"`
	Name   string `json:"name"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID      string        `json:"run_id"`
	Experiment string        `json:"experiment"`
	Run        string        `json:"run"`
	Stats      store.Stats   `json:"stats"`
	Phases     []TracePhase  `json:"phases"`
	Moments    []TraceMoment `json:"moments,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the stored phases of a run",
		Long: `Show the phases recorded for a run, stage by stage, with their
durations. Without --run the most recently recorded run is shown.

Examples:
  phasetrace trace --db runs.db
  phasetrace trace --db runs.db --run 0190d3e1-... --moments
  phasetrace trace --db runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID (default: latest)")
	cmd.Flags().BoolVar(&opts.Moments, "moments", false, "also list the run's timeline")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var run store.Run
	if opts.RunID != "" {
		run, err = st.ReadRun(ctx, opts.RunID)
	} else {
		run, err = st.LatestRun(ctx)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	phases, err := st.ReadPhases(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read phases", err)
	}

	result := TraceResult{
		RunID:      run.ID,
		Experiment: run.Experiment,
		Run:        run.Name,
		Stats:      run.Stats,
		Phases:     buildTracePhases(phases),
	}

	if opts.Moments {
		moments, err := st.ReadMoments(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read moments", err)
		}
		for _, m := range moments {
			result.Moments = append(result.Moments, TraceMoment{
				Time:   report.FormatTime(m.Time),
				Source: m.Source.String(),
				Name:   m.Name,
				From:   m.From,
				To:     m.To,
			})
		}
	}

	f := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return f.JSON(result, nil)
	}
	writeTraceText(f, result)
	return nil
}

func buildTracePhases(outputs []phase.Output) []TracePhase {
	phases := make([]TracePhase, 0, len(outputs))
	for i, out := range outputs {
		tp := TracePhase{
			Label:  fmt.Sprintf("phase %d", i+1),
			Seq:    out.Seq,
			Host:   out.Host.String(),
			Stages: make([]TraceStage, 0, len(out.Stages)),
		}
		for _, st := range out.Stages {
			tp.Stages = append(tp.Stages, TraceStage{
				Name:       st.Name,
				Start:      report.FormatTime(st.Start),
				End:        report.FormatTime(st.End),
				DurationMs: spanMillis(st.Span),
			})
		}
		if e2e, ok := out.EndToEnd(); ok {
			tp.E2EMs = spanMillis(e2e)
		}
		phases = append(phases, tp)
	}
	return phases
}

func spanMillis(s phase.Span) *int64 {
	d, ok := s.Duration()
	if !ok {
		return nil
	}
	n := d.Round(time.Millisecond).Milliseconds()
	return &n
}

func writeTraceText(f *OutputFormatter, r TraceResult) {
	w := f.Writer
	fmt.Fprintf(w, "Run %s (%s/%s)\n", r.RunID, r.Experiment, r.Run)
	fmt.Fprintf(w, "  moments=%d consumed=%d spawned=%d dropped=%d ignored=%d unfinished=%d\n",
		r.Stats.Moments, r.Stats.Consumed, r.Stats.Spawned, r.Stats.Dropped, r.Stats.Ignored, r.Stats.Unfinished)

	if len(r.Phases) == 0 {
		fmt.Fprintln(w, "\nNo phases recorded.")
	}
	for _, p := range r.Phases {
		fmt.Fprintf(w, "\n%s (seq %d, host %s)", p.Label, p.Seq, p.Host)
		if p.E2EMs != nil {
			fmt.Fprintf(w, " e2e %dms", *p.E2EMs)
		}
		fmt.Fprintln(w)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, st := range p.Stages {
			dur := report.NaN
			if st.DurationMs != nil {
				dur = fmt.Sprintf("%dms", *st.DurationMs)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", st.Name, dur, st.Start)
		}
		tw.Flush()
	}

	if len(r.Moments) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		for _, m := range r.Moments {
			fmt.Fprintf(w, "  %s  %-8s %s (%s -> %s)\n", m.Time, m.Source, m.Name, m.From, m.To)
		}
	}
}

// openExisting opens a database that must already exist. store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path), err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
