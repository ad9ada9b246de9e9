package phase

import (
	"time"

	"github.com/roach88/phasetrace/internal/moment"
)

// Span is the interval a stage was occupied. End is the zero time while
// the stage is still occupied.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Closed reports whether the end has been recorded.
func (s Span) Closed() bool {
	return !s.End.IsZero()
}

// Duration returns End - Start, and false while the span is open.
func (s Span) Duration() (time.Duration, bool) {
	if !s.Closed() {
		return 0, false
	}
	return s.End.Sub(s.Start), true
}

// Stage is one named entry of a phase timeline.
type Stage struct {
	Name string `json:"name"`
	Span
}

// Output is the emitted timing record of a finished phase.
// Stages are in pipeline order; the terminal entry is never present.
type Output struct {
	Seq      int64       `json:"seq"`
	Host     moment.Role `json:"host"`
	Resolver moment.Role `json:"resolver"`
	Stages   []Stage     `json:"stages"`
}

// Stage looks up a stage by name.
func (o Output) Stage(name string) (Span, bool) {
	for _, s := range o.Stages {
		if s.Name == name {
			return s.Span, true
		}
	}
	return Span{}, false
}

// EndToEnd spans from the start of the first stage to the end of the
// rendering stage. It is false when either end is missing.
func (o Output) EndToEnd() (Span, bool) {
	if len(o.Stages) == 0 {
		return Span{}, false
	}
	rendering, ok := o.Stage(StageRendering(o.Resolver))
	if !ok || !rendering.Closed() {
		return Span{}, false
	}
	return Span{Start: o.Stages[0].Start, End: rendering.End}, true
}
