package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/pipeline"
	"github.com/roach88/phasetrace/internal/report"
	"github.com/roach88/phasetrace/internal/store"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	HostDir     string
	ResolverDir string
	OutDir      string
	Database    string
	Experiment  string
	Name        string
	Traffic     bool
	TrafficIPs  []string

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs store.RunIDGenerator
}

// AnalyzeResult is the outcome of one analysed run.
type AnalyzeResult struct {
	Experiment string         `json:"experiment"`
	Run        string         `json:"run"`
	RunID      string         `json:"run_id,omitempty"`
	OutputDir  string         `json:"output_dir"`
	CloudIP    string         `json:"cloud_ip"`
	GateOpened bool           `json:"gate_opened"`
	Moments    int            `json:"moments"`
	Phases     int            `json:"phases"`
	Unfinished int            `json:"unfinished"`
	Ignored    int            `json:"ignored"`
	Dropped    int            `json:"dropped"`
	Traffic    *int           `json:"traffic,omitempty"`
	Summary    report.Summary `json:"summary"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyse one run",
		Long: `Analyse one run from its host and resolver directories.

Each directory holds the device's application log and packet capture
(file names from the config). The reports are written to --out, by
default <output>/<experiment>/<run>. With --db (or the config's
database) the run is also recorded for replay and trace. With --traffic
the TCP packets in the window that do not touch the relay are written to
traffic.csv, limited to --traffic-ip addresses when given.

Exit codes:
  0 - Run analysed
  2 - Command error (missing files, no relay traffic, scan error)

Examples:
  phasetrace analyze --host datasets/wifi/host/run1 --resolver datasets/wifi/resolver/run1
  phasetrace analyze --host h --resolver r --out ./out --db runs.db --format json
  phasetrace analyze --host h --resolver r --traffic --traffic-ip 8.8.8.8`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HostDir, "host", "", "host run directory (required)")
	_ = cmd.MarkFlagRequired("host")
	cmd.Flags().StringVar(&opts.ResolverDir, "resolver", "", "resolver run directory (required)")
	_ = cmd.MarkFlagRequired("resolver")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "report directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringVar(&opts.Experiment, "experiment", "", "experiment name (default: parent of the host's role directory)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "run name (default: host directory name)")
	cmd.Flags().BoolVar(&opts.Traffic, "traffic", false, "also write background traffic to traffic.csv")
	cmd.Flags().StringSliceVar(&opts.TrafficIPs, "traffic-ip", nil, "limit background traffic to these addresses (implies --traffic)")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	target := pipeline.Target{
		Experiment:  opts.Experiment,
		Name:        opts.Name,
		HostDir:     opts.HostDir,
		ResolverDir: opts.ResolverDir,
	}
	if target.Name == "" {
		target.Name = filepath.Base(filepath.Clean(opts.HostDir))
	}
	if target.Experiment == "" {
		target.Experiment = filepath.Base(filepath.Dir(filepath.Dir(filepath.Clean(opts.HostDir))))
	}

	in := target.Input(cfg)
	in.Traffic = opts.Traffic || len(opts.TrafficIPs) > 0
	in.TrafficIPs = opts.TrafficIPs

	out, err := pipeline.Run(ctx, in, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "analysis failed", err)
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = target.OutputDir(cfg.Output)
	}
	if err := report.WriteAll(outDir, out.Moments, out.Result.Phases); err != nil {
		return WrapExitError(ExitCommandError, "failed to write reports", err)
	}
	if in.Traffic {
		if err := report.WriteTrafficFile(outDir, out.Traffic); err != nil {
			return WrapExitError(ExitCommandError, "failed to write traffic", err)
		}
	}

	result := newAnalyzeResult(target, outDir, out)
	if in.Traffic {
		n := len(out.Traffic)
		result.Traffic = &n
	}

	db := opts.Database
	if db == "" {
		db = cfg.Database
	}
	if db != "" {
		gen := opts.RunIDs
		if gen == nil {
			gen = store.UUIDv7Generator{}
		}
		run, err := saveRun(ctx, db, gen, target, out)
		if err != nil {
			return err
		}
		result.RunID = run.ID
	}

	f := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return f.JSON(result, nil)
	}
	writeAnalyzeText(f.Writer, result)
	return nil
}

func newAnalyzeResult(t pipeline.Target, outDir string, out *pipeline.RunOutput) AnalyzeResult {
	res := out.Result
	return AnalyzeResult{
		Experiment: t.Experiment,
		Run:        t.Name,
		OutputDir:  outDir,
		CloudIP:    out.CloudIP,
		GateOpened: res.GateOpened,
		Moments:    res.Moments,
		Phases:     len(res.Phases),
		Unfinished: len(res.Unfinished),
		Ignored:    res.Ignored,
		Dropped:    res.Dropped,
		Summary:    report.Summarize(res.Phases),
	}
}

func saveRun(ctx context.Context, path string, gen store.RunIDGenerator, t pipeline.Target, out *pipeline.RunOutput) (store.Run, error) {
	st, err := store.Open(path)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := pipeline.Save(ctx, st, gen, t, out)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to record run", err)
	}
	return run, nil
}

func writeAnalyzeText(w io.Writer, r AnalyzeResult) {
	fmt.Fprintf(w, "%s/%s: %d phases from %d moments", r.Experiment, r.Run, r.Phases, r.Moments)
	if r.Unfinished > 0 {
		fmt.Fprintf(w, " (%d unfinished)", r.Unfinished)
	}
	fmt.Fprintln(w)
	if !r.GateOpened {
		fmt.Fprintln(w, "  gate never opened: no touch followed by a stroke")
	}
	fmt.Fprintf(w, "  cloud: %s\n", r.CloudIP)
	fmt.Fprintf(w, "  reports: %s\n", r.OutputDir)
	if r.Traffic != nil {
		fmt.Fprintf(w, "  traffic: %d packets in %s\n", *r.Traffic, report.TrafficFile)
	}
	if r.RunID != "" {
		fmt.Fprintf(w, "  run id: %s\n", r.RunID)
	}
	if r.Phases == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tCOUNT\tMEAN\tP50\tP90\tMAX")
	rows := append(append([]report.StageSummary{}, r.Summary.Stages...), r.Summary.EndToEnd)
	for _, st := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			st.Name, st.Count, ms(st.Mean), ms(st.P50), ms(st.P90), ms(st.Max))
	}
	tw.Flush()
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// scanErrorCode maps scanner failures onto CLI error codes.
func scanErrorCode(err error) string {
	if engine.IsUnsortedTimeline(err) || engine.IsInvariantViolation(err) {
		return ErrCodeScan
	}
	return ErrCodeInput
}
