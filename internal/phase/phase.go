package phase

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/phasetrace/internal/fsm"
	"github.com/roach88/phasetrace/internal/moment"
)

// ErrNotFinished is returned by Output before the terminal stage is reached.
var ErrNotFinished = errors.New("phase not finished")

// Phase is one in-flight pipeline instance. Not goroutine-safe; it is owned
// by a single scan.
type Phase struct {
	seq      int64
	host     moment.Role
	resolver moment.Role
	machine  *fsm.Machine

	// timeline has an entry for every state ever occupied.
	timeline map[string]*Span
}

// New creates a phase whose first stage opens at start.
//
// host is the device that produced the moment starting this phase;
// resolver must be the other role.
func New(start time.Time, host, resolver moment.Role) (*Phase, error) {
	if !host.Valid() || !resolver.Valid() {
		return nil, fmt.Errorf("phase: invalid roles (host=%q, resolver=%q)", host, resolver)
	}
	if host == resolver {
		return nil, fmt.Errorf("phase: host and resolver must differ, both %q", host)
	}

	names := StageNames(host, resolver)
	machine, err := fsm.New(names[IndexLocalAction], names, transitions(host, resolver))
	if err != nil {
		return nil, fmt.Errorf("phase: build state machine: %w", err)
	}

	p := &Phase{
		host:     host,
		resolver: resolver,
		machine:  machine,
		timeline: make(map[string]*Span, len(names)),
	}
	p.observe(machine.CurrentState(), start)
	return p, nil
}

// SetSeq assigns the creation sequence number used in outputs.
func (p *Phase) SetSeq(seq int64) { p.seq = seq }

// Seq returns the creation sequence number.
func (p *Phase) Seq() int64 { return p.seq }

// Host returns the initiating role of this phase.
func (p *Phase) Host() moment.Role { return p.host }

// Resolver returns the responding role of this phase.
func (p *Phase) Resolver() moment.Role { return p.resolver }

// CurrentStage returns the name of the occupied stage.
func (p *Phase) CurrentStage() string { return p.machine.CurrentState() }

// IsNextValidEvent reports whether the phase would accept event now.
func (p *Phase) IsNextValidEvent(event string) bool {
	return p.machine.IsNextValidEvent(event)
}

// IsFinished reports whether the terminal stage has been reached.
func (p *Phase) IsFinished() bool {
	return p.machine.IsFinished()
}

// Transit records ts as the end of the current stage, advances the state
// machine, and opens (or extends) the entry of the new stage at ts.
//
// Stages jumped over by a forward edge get a zero-length entry at ts.
// A finished phase ignores the call.
func (p *Phase) Transit(event string, ts time.Time) error {
	if p.IsFinished() {
		return nil
	}
	if !p.machine.IsNextValidEvent(event) {
		return p.machine.Transit(event)
	}

	from := p.machine.Index()
	p.observe(p.machine.CurrentState(), ts)
	if err := p.machine.Transit(event); err != nil {
		return err
	}
	to := p.machine.Index()

	names := p.machine.States()
	for skipped := from + 1; skipped < to; skipped++ {
		if _, ok := p.timeline[names[skipped]]; !ok {
			p.timeline[names[skipped]] = &Span{Start: ts, End: ts}
		}
	}
	p.observe(p.machine.CurrentState(), ts)
	return nil
}

// observe opens the entry for state at ts, or sets its end if the state
// has been seen before. The start of an existing entry never moves.
func (p *Phase) observe(state string, ts time.Time) {
	span, ok := p.timeline[state]
	if !ok {
		p.timeline[state] = &Span{Start: ts}
		return
	}
	span.End = ts
}

// Output returns the stage timings without the terminal entry.
func (p *Phase) Output() (Output, error) {
	if !p.IsFinished() {
		return Output{}, fmt.Errorf("%w: phase %d at %q", ErrNotFinished, p.seq, p.CurrentStage())
	}

	out := Output{
		Seq:      p.seq,
		Host:     p.host,
		Resolver: p.resolver,
	}
	for _, name := range p.machine.States() {
		if IsTerminalStage(name) {
			continue
		}
		span, ok := p.timeline[name]
		if !ok {
			continue
		}
		out.Stages = append(out.Stages, Stage{Name: name, Span: *span})
	}
	return out, nil
}

// Snapshot returns the stages recorded so far, including the occupied
// stage with an open end. Used for diagnostics on unfinished phases.
func (p *Phase) Snapshot() []Stage {
	var stages []Stage
	for _, name := range p.machine.States() {
		if span, ok := p.timeline[name]; ok {
			stages = append(stages, Stage{Name: name, Span: *span})
		}
	}
	return stages
}
