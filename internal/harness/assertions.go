package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/phase"
)

// AssertionError is a failed assertion with the emitted phases for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Phases   []phase.Output
	Start    time.Time
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nPhases:\n")
	for i, out := range e.Phases {
		fmt.Fprintf(&buf, "  [%d] seq=%d host=%s\n", i+1, out.Seq, out.Host)
		for _, st := range out.Stages {
			fmt.Fprintf(&buf, "      %-28s %s\n", st.Name, formatSpan(st.Span, e.Start))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against a scan and returns
// one message per failure.
func EvaluateAssertions(res *engine.Result, start time.Time, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(res, start, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, err.Error()))
		}
	}
	return errs
}

func evaluate(res *engine.Result, start time.Time, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Phases: res.Phases, Start: start}
	}

	switch a.Type {
	case AssertPhaseCount:
		if len(res.Phases) != *a.Count {
			return fail(fmt.Sprintf("%d phases", *a.Count), fmt.Sprintf("%d phases", len(res.Phases)))
		}
	case AssertUnfinished:
		if len(res.Unfinished) != *a.Count {
			return fail(fmt.Sprintf("%d unfinished", *a.Count), fmt.Sprintf("%d unfinished", len(res.Unfinished)))
		}
	case AssertCounters:
		return assertCounters(res, a, fail)
	case AssertStage, AssertNoStage, AssertE2E:
		if a.Phase > len(res.Phases) {
			return fail(fmt.Sprintf("phase %d", a.Phase), fmt.Sprintf("only %d phases", len(res.Phases)))
		}
		out := res.Phases[a.Phase-1]
		switch a.Type {
		case AssertStage:
			return assertStage(out, start, a, fail)
		case AssertNoStage:
			if span, ok := out.Stage(a.Stage); ok {
				return fail(fmt.Sprintf("no %q", a.Stage), formatSpan(span, start))
			}
		case AssertE2E:
			span, ok := out.EndToEnd()
			if !ok {
				return fail(fmt.Sprintf("e2e %dms", *a.Duration), "no closed rendering stage")
			}
			if d := millis(span.End.Sub(span.Start)); d != *a.Duration {
				return fail(fmt.Sprintf("e2e %dms", *a.Duration), fmt.Sprintf("e2e %dms", d))
			}
		}
	}
	return nil
}

func assertStage(out phase.Output, start time.Time, a Assertion, fail func(string, string) error) error {
	span, ok := out.Stage(a.Stage)
	if !ok {
		return fail(fmt.Sprintf("stage %q", a.Stage), "missing")
	}
	actual := formatSpan(span, start)

	if a.Start != nil && millis(span.Start.Sub(start)) != *a.Start {
		return fail(fmt.Sprintf("%q starts at %dms", a.Stage, *a.Start), actual)
	}
	if a.Open {
		if span.Closed() {
			return fail(fmt.Sprintf("%q open", a.Stage), actual)
		}
		return nil
	}
	if a.End != nil && (!span.Closed() || millis(span.End.Sub(start)) != *a.End) {
		return fail(fmt.Sprintf("%q ends at %dms", a.Stage, *a.End), actual)
	}
	if a.Duration != nil {
		d, ok := span.Duration()
		if !ok || millis(d) != *a.Duration {
			return fail(fmt.Sprintf("%q lasts %dms", a.Stage, *a.Duration), actual)
		}
	}
	return nil
}

func assertCounters(res *engine.Result, a Assertion, fail func(string, string) error) error {
	checks := []struct {
		name string
		want *int
		got  int
	}{
		{"ignored", a.Ignored, res.Ignored},
		{"consumed", a.Consumed, res.Consumed},
		{"spawned", a.Spawned, res.Spawned},
		{"dropped", a.Dropped, res.Dropped},
	}
	for _, c := range checks {
		if c.want != nil && *c.want != c.got {
			return fail(fmt.Sprintf("%s=%d", c.name, *c.want), fmt.Sprintf("%s=%d", c.name, c.got))
		}
	}
	return nil
}

func millis(d time.Duration) int {
	return int(d.Round(time.Millisecond) / time.Millisecond)
}

// formatSpan renders a span as offsets from start, e.g. "20..65ms".
func formatSpan(s phase.Span, start time.Time) string {
	if !s.Closed() {
		return fmt.Sprintf("%d..open", millis(s.Start.Sub(start)))
	}
	return fmt.Sprintf("%d..%dms", millis(s.Start.Sub(start)), millis(s.End.Sub(start)))
}
