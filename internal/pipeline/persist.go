package pipeline

import (
	"context"
	"fmt"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/phase"
	"github.com/roach88/phasetrace/internal/store"
)

// Save records a run with its timeline and phases under a fresh ID, in a
// single transaction.
func Save(ctx context.Context, st *store.Store, gen store.RunIDGenerator, t Target, out *RunOutput) (store.Run, error) {
	res := out.Result
	run := store.Run{
		ID:           gen.Generate(),
		Experiment:   t.Experiment,
		Name:         t.Name,
		HostDir:      t.HostDir,
		ResolverDir:  t.ResolverDir,
		CloudIP:      out.CloudIP,
		GateOpenedAt: res.GateOpenedAt,
		Stats: store.Stats{
			Moments:    res.Moments,
			Ignored:    res.Ignored,
			Consumed:   res.Consumed,
			Spawned:    res.Spawned,
			Dropped:    res.Dropped,
			Unfinished: len(res.Unfinished),
		},
	}

	if err := st.WriteRunAll(ctx, run, out.Moments, res.Phases); err != nil {
		return store.Run{}, err
	}
	return st.ReadRun(ctx, run.ID)
}

// Mismatch describes one difference between stored and re-scanned phases.
type Mismatch struct {
	Index   int
	Message string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("phase %d: %s", m.Index+1, m.Message)
}

// ReplayResult compares a stored run with a fresh scan of its timeline.
type ReplayResult struct {
	Run        store.Run
	Stored     []phase.Output
	Replayed   []phase.Output
	Mismatches []Mismatch
}

// Match reports whether the replay reproduced the stored phases.
func (r *ReplayResult) Match() bool { return len(r.Mismatches) == 0 }

// Replay re-scans the stored timeline of runID and compares the phases
// with the stored ones.
func Replay(ctx context.Context, st *store.Store, runID string) (*ReplayResult, error) {
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	moments, err := st.ReadMoments(ctx, runID)
	if err != nil {
		return nil, err
	}
	stored, err := st.ReadPhases(ctx, runID)
	if err != nil {
		return nil, err
	}

	res, err := engine.Scan(moments)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	return &ReplayResult{
		Run:        run,
		Stored:     stored,
		Replayed:   res.Phases,
		Mismatches: ComparePhases(stored, res.Phases),
	}, nil
}

// ComparePhases lists the differences between two phase lists, in order.
// Times are compared as instants.
func ComparePhases(want, got []phase.Output) []Mismatch {
	var out []Mismatch
	if len(want) != len(got) {
		out = append(out, Mismatch{Index: min(len(want), len(got)),
			Message: fmt.Sprintf("count differs: stored %d, replayed %d", len(want), len(got))})
	}
	for i := 0; i < min(len(want), len(got)); i++ {
		if msg, ok := compareOutput(want[i], got[i]); !ok {
			out = append(out, Mismatch{Index: i, Message: msg})
		}
	}
	return out
}

func compareOutput(want, got phase.Output) (string, bool) {
	switch {
	case want.Seq != got.Seq:
		return fmt.Sprintf("seq: stored %d, replayed %d", want.Seq, got.Seq), false
	case want.Host != got.Host:
		return fmt.Sprintf("host: stored %s, replayed %s", want.Host, got.Host), false
	case len(want.Stages) != len(got.Stages):
		return fmt.Sprintf("stage count: stored %d, replayed %d", len(want.Stages), len(got.Stages)), false
	}
	for j, ws := range want.Stages {
		gs := got.Stages[j]
		if ws.Name != gs.Name {
			return fmt.Sprintf("stage %d: stored %q, replayed %q", j, ws.Name, gs.Name), false
		}
		if !ws.Start.Equal(gs.Start) || !ws.End.Equal(gs.End) {
			return fmt.Sprintf("%s: stored %s..%s, replayed %s..%s",
				ws.Name, ws.Start, ws.End, gs.Start, gs.End), false
		}
	}
	return "", true
}
