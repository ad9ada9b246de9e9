package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrace/internal/pipeline"
	"github.com/roach88/phasetrace/internal/report"
	"github.com/roach88/phasetrace/internal/store"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Datasets string
	OutDir   string
	Database string
	Workers  int

	// RunIDs overrides the run ID generator (for testing).
	RunIDs store.RunIDGenerator
}

// BatchRun is one row of the batch report.
type BatchRun struct {
	Experiment string `json:"experiment"`
	Run        string `json:"run"`
	Phases     int    `json:"phases"`
	Moments    int    `json:"moments"`
	RunID      string `json:"run_id,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// BatchResult is the outcome of a batch.
type BatchResult struct {
	Runs      []BatchRun `json:"runs"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Total     int        `json:"total"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyse every run under a dataset root",
		Long: `Analyse every <datasets>/<experiment>/host/<run> directory paired with
<datasets>/<experiment>/resolver/<run>, several runs at a time.

A failing run is logged and skipped; the others still complete.

Exit codes:
  0 - Every run analysed
  1 - One or more runs failed
  2 - Command error (dataset root missing, database unusable)

Examples:
  phasetrace batch
  phasetrace batch --datasets ./datasets --out ./outputs --workers 8
  phasetrace batch --db runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Datasets, "datasets", "", "dataset root (default from config)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "report root (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "j", 0, "runs analysed in parallel (default from config)")

	return cmd
}

func runBatch(opts *BatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.Datasets != "" {
		cfg.Datasets = opts.Datasets
	}
	if opts.OutDir != "" {
		cfg.Output = opts.OutDir
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	if _, err := os.Stat(cfg.Datasets); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("datasets directory not found: %s", cfg.Datasets), err)
	}
	targets, err := pipeline.Discover(cfg.Datasets)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to discover runs", err)
	}

	var st *store.Store
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}
	gen := opts.RunIDs
	if gen == nil {
		gen = store.UUIDv7Generator{}
	}

	runIDs := make([]string, len(targets))
	index := make(map[pipeline.Target]int, len(targets))
	for i, t := range targets {
		index[t] = i
	}

	handle := func(ctx context.Context, t pipeline.Target, out *pipeline.RunOutput) error {
		if err := report.WriteAll(t.OutputDir(cfg.Output), out.Moments, out.Result.Phases); err != nil {
			return err
		}
		if st == nil {
			return nil
		}
		run, err := pipeline.Save(ctx, st, gen, t, out)
		if err != nil {
			return err
		}
		runIDs[index[t]] = run.ID
		return nil
	}

	outcomes, err := pipeline.RunAll(commandContext(cmd), targets, cfg, handle)
	if err != nil {
		return WrapExitError(ExitCommandError, "batch interrupted", err)
	}

	result := BatchResult{Runs: make([]BatchRun, 0, len(outcomes)), Total: len(outcomes)}
	for i, oc := range outcomes {
		row := BatchRun{Experiment: oc.Target.Experiment, Run: oc.Target.Name, RunID: runIDs[i]}
		if oc.Err != nil {
			row.Error = oc.Err.Error()
			row.ErrorCode = scanErrorCode(oc.Err)
			result.Failed++
		} else {
			row.Phases = len(oc.Output.Result.Phases)
			row.Moments = oc.Output.Result.Moments
			result.Succeeded++
		}
		result.Runs = append(result.Runs, row)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		var cliErr *CLIError
		if result.Failed > 0 {
			cliErr = &CLIError{Code: ErrCodeRuns, Message: fmt.Sprintf("%d run(s) failed", result.Failed)}
		}
		if err := f.JSON(result, cliErr); err != nil {
			return err
		}
	} else {
		writeBatchText(f, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d run(s) failed", result.Failed))
	}
	return nil
}

func writeBatchText(f *OutputFormatter, r BatchResult) {
	if r.Total == 0 {
		fmt.Fprintln(f.Writer, "No runs found.")
		return
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPERIMENT\tRUN\tPHASES\tRESULT")
	for _, run := range r.Runs {
		status := "ok"
		if run.Error != "" {
			status = "failed: " + run.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", run.Experiment, run.Run, run.Phases, status)
	}
	tw.Flush()

	fmt.Fprintln(f.Writer)
	fmt.Fprintf(f.Writer, "Batch Summary: %d succeeded, %d failed, %d total\n", r.Succeeded, r.Failed, r.Total)
}
