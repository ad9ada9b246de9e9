package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrace/internal/pipeline"
	"github.com/roach88/phasetrace/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID      string   `json:"run_id"`
	Experiment string   `json:"experiment"`
	Run        string   `json:"run"`
	Stored     int      `json:"stored_phases"`
	Replayed   int      `json:"replayed_phases"`
	Match      bool     `json:"match"`
	Mismatches []string `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs     []ReplayRunResult `json:"runs"`
	Total    int               `json:"total"`
	AllMatch bool              `json:"all_match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-scan stored timelines and compare phases",
		Long: `Re-scan the stored timeline of each recorded run and compare the
resulting phases with the stored ones.

Exit codes:
  0 - Every replay reproduced the stored phases
  1 - One or more runs differ
  2 - Command error (database not found, unknown run, scan error)

Examples:
  phasetrace replay --db runs.db
  phasetrace replay --db runs.db --run 0190d3e1-...
  phasetrace replay --db runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var ids []string
	if opts.RunID != "" {
		ids = []string{opts.RunID}
	} else {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
	}

	result := ReplayResult{Runs: []ReplayRunResult{}, AllMatch: true}
	for _, id := range ids {
		res, err := pipeline.Replay(ctx, st, id)
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id), err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}

		row := ReplayRunResult{
			RunID:      id,
			Experiment: res.Run.Experiment,
			Run:        res.Run.Name,
			Stored:     len(res.Stored),
			Replayed:   len(res.Replayed),
			Match:      res.Match(),
		}
		for _, m := range res.Mismatches {
			row.Mismatches = append(row.Mismatches, m.String())
		}
		if !row.Match {
			result.AllMatch = false
		}
		result.Runs = append(result.Runs, row)
	}
	result.Total = len(result.Runs)

	f := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		var cliErr *CLIError
		if !result.AllMatch {
			cliErr = &CLIError{Code: ErrCodeMismatch, Message: "replay differs from stored phases"}
		}
		if err := f.JSON(result, cliErr); err != nil {
			return err
		}
	} else {
		writeReplayText(f, result)
	}

	if !result.AllMatch {
		return NewExitError(ExitFailure, "replay differs from stored phases")
	}
	return nil
}

func writeReplayText(f *OutputFormatter, r ReplayResult) {
	if r.Total == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return
	}
	for _, run := range r.Runs {
		mark := "✓"
		if !run.Match {
			mark = "✗"
		}
		fmt.Fprintf(f.Writer, "%s %s/%s (%s): %d stored, %d replayed\n",
			mark, run.Experiment, run.Run, run.RunID, run.Stored, run.Replayed)
		for _, m := range run.Mismatches {
			fmt.Fprintf(f.Writer, "  %s\n", m)
		}
	}
	fmt.Fprintln(f.Writer)
	if r.AllMatch {
		fmt.Fprintf(f.Writer, "✓ All %d run(s) reproduced\n", r.Total)
	}
}
