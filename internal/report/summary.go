package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/roach88/phasetrace/internal/phase"
)

// EndToEndStage names the end-to-end row of a summary.
const EndToEndStage = "e2e"

// digestCompression bounds each digest to roughly 100 centroids.
const digestCompression = 100

// StageSummary aggregates the closed durations of one stage name.
// Percentiles are t-digest estimates; Mean, Min and Max are exact.
type StageSummary struct {
	Name  string        `json:"name"`
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean_ns"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	P50   time.Duration `json:"p50_ns"`
	P90   time.Duration `json:"p90_ns"`
	P99   time.Duration `json:"p99_ns"`
}

// Summary is the latency breakdown of a set of phases.
type Summary struct {
	Phases   int            `json:"phases"`
	Stages   []StageSummary `json:"stages"`
	EndToEnd StageSummary   `json:"e2e"`
}

// accumulator collects one stage's durations.
type accumulator struct {
	name     string
	position int
	digest   *tdigest.TDigest
	count    int
	sum      time.Duration
	min, max time.Duration
}

func newAccumulator(name string, position int) *accumulator {
	return &accumulator{
		name:     name,
		position: position,
		digest:   tdigest.NewWithCompression(digestCompression),
	}
}

func (a *accumulator) add(d time.Duration) {
	if a.count == 0 || d < a.min {
		a.min = d
	}
	if a.count == 0 || d > a.max {
		a.max = d
	}
	a.count++
	a.sum += d
	a.digest.Add(float64(d), 1)
}

func (a *accumulator) summary() StageSummary {
	s := StageSummary{Name: a.name, Count: a.count}
	if a.count == 0 {
		return s
	}
	s.Mean = a.sum / time.Duration(a.count)
	s.Min = a.min
	s.Max = a.max
	s.P50 = a.quantile(0.50)
	s.P90 = a.quantile(0.90)
	s.P99 = a.quantile(0.99)
	return s
}

// quantile clamps the estimate into [min, max]; interpolation between
// centroids can overshoot slightly.
func (a *accumulator) quantile(q float64) time.Duration {
	v := time.Duration(math.Round(a.digest.Quantile(q)))
	return min(max(v, a.min), a.max)
}

// Summarize aggregates stage and end-to-end durations over outputs.
// Open spans are skipped. Stages are ordered by pipeline position, then
// name, so host- and resolver-initiated stages sit side by side.
func Summarize(outputs []phase.Output) Summary {
	byName := make(map[string]*accumulator)
	e2e := newAccumulator(EndToEndStage, math.MaxInt)

	for _, out := range outputs {
		for pos, st := range out.Stages {
			acc, ok := byName[st.Name]
			if !ok {
				acc = newAccumulator(st.Name, pos)
				byName[st.Name] = acc
			}
			if d, ok := st.Duration(); ok {
				acc.add(d)
			}
		}
		if span, ok := out.EndToEnd(); ok {
			if d, ok := span.Duration(); ok {
				e2e.add(d)
			}
		}
	}

	accs := make([]*accumulator, 0, len(byName))
	for _, acc := range byName {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].position != accs[j].position {
			return accs[i].position < accs[j].position
		}
		return accs[i].name < accs[j].name
	})

	sum := Summary{Phases: len(outputs), EndToEnd: e2e.summary()}
	for _, acc := range accs {
		sum.Stages = append(sum.Stages, acc.summary())
	}
	return sum
}

// WriteSummary writes the summary as CSV, durations in milliseconds with
// microsecond precision; the end-to-end row comes last.
func WriteSummary(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	header := []string{"stage", "count", "mean_ms", "min_ms", "p50_ms", "p90_ms", "p99_ms", "max_ms"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	rows := append(append([]StageSummary{}, s.Stages...), s.EndToEnd)
	for _, st := range rows {
		row := []string{st.Name, strconv.Itoa(st.Count)}
		for _, d := range []time.Duration{st.Mean, st.Min, st.P50, st.P90, st.P99, st.Max} {
			row = append(row, millis(d, st.Count))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func millis(d time.Duration, count int) string {
	if count == 0 {
		return NaN
	}
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
