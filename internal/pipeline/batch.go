package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/phasetrace/internal/config"
)

// Outcome is the result of one batch entry. Exactly one of Output and Err
// is set.
type Outcome struct {
	Target Target
	Output *RunOutput
	Err    error
}

// Handler consumes a successful run, e.g. to write reports. Its error is
// recorded on the run's Outcome.
type Handler func(ctx context.Context, t Target, out *RunOutput) error

// RunAll analyses targets with at most cfg.Workers in flight. A failing
// run is logged and recorded; it never stops the others. Outcomes are
// returned in target order. The only error returned is the context's.
func RunAll(ctx context.Context, targets []Target, cfg *config.Config, handle Handler) ([]Outcome, error) {
	outcomes := make([]Outcome, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))

	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			outcomes[i] = runOne(gctx, t, cfg, handle)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func runOne(ctx context.Context, t Target, cfg *config.Config, handle Handler) Outcome {
	oc := Outcome{Target: t}
	if err := ctx.Err(); err != nil {
		oc.Err = err
		return oc
	}

	out, err := Run(ctx, t.Input(cfg), cfg)
	if err == nil && handle != nil {
		err = handle(ctx, t, out)
	}
	if err != nil {
		slog.Warn("run failed", "experiment", t.Experiment, "run", t.Name, "error", err)
		oc.Err = err
		return oc
	}
	oc.Output = out
	return oc
}

// Failed counts the outcomes with an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, oc := range outcomes {
		if oc.Err != nil {
			n++
		}
	}
	return n
}
