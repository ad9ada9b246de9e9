package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

// Scanner is the single-threaded phase reconstruction loop.
//
// Moments are fed in time order through Process (or all at once through
// Scan). Finished phases are collected in completion order; Finish returns
// them together with counters describing what happened to every moment.
//
// Thread-safety model:
//   - A Scanner must be driven from exactly one goroutine
//
// INVARIANTS:
//   - In-flight phases are ordered by creation; the oldest accepting
//     phase consumes an event
//   - A finished phase is removed from the in-flight set by identity
//   - Every moment is counted exactly once as ignored, consumed, spawned
//     or dropped
type Scanner struct {
	clock  *Clock
	logger *slog.Logger
	queue  *phaseQueue
	gate   gate

	// index is the number of moments processed so far.
	index    int
	last     time.Time
	result   Result
	finished bool
}

// Result is the outcome of one scan.
type Result struct {
	// Phases holds every completed phase in completion order.
	Phases []phase.Output

	// GateOpened reports whether the start gate was ever satisfied.
	GateOpened bool

	// GateOpenedAt is the time of the touch that armed the gate.
	GateOpenedAt time.Time

	// Moments is the number of moments processed.
	Moments int

	// Ignored counts moments seen before the gate opened, except the
	// touch that armed it, which is counted once it seeds a phase.
	Ignored int

	// Consumed counts moments accepted by an in-flight phase.
	Consumed int

	// Spawned counts phases created.
	Spawned int

	// Dropped counts moments after the gate that no phase accepted and
	// that could not start one.
	Dropped int

	// Unfinished holds the phases still in flight when the scan ended.
	Unfinished []Pending
}

// Pending describes a phase that never reached its terminal stage.
type Pending struct {
	Seq    int64
	Host   moment.Role
	Stage  string
	Stages []phase.Stage
}

// gate tracks the start condition: a user touch followed by the first
// stroke creation.
type gate struct {
	open  bool
	armed *moment.Moment
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for per-moment debug output and the scan
// summary. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// New creates a Scanner with an empty in-flight set and a closed gate.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		clock:  NewClock(),
		logger: slog.Default(),
		queue:  newPhaseQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan processes every moment and returns the result.
//
// On error the partial result is discarded; the error is a *RuntimeError.
func Scan(moments []moment.Moment, opts ...Option) (*Result, error) {
	s := New(opts...)
	for _, m := range moments {
		if err := s.Process(m); err != nil {
			return nil, err
		}
	}
	return s.Finish(), nil
}

// Process feeds one moment to the scanner.
//
// Returns a *RuntimeError if m is earlier than the previous moment or if a
// phase breaks its transition contract. Calling Process after Finish is a
// no-op.
func (s *Scanner) Process(m moment.Moment) error {
	if s.finished {
		return nil
	}

	idx := s.index
	if idx > 0 && m.Time.Before(s.last) {
		return NewUnsortedError(idx, m.Event(), s.last, m.Time)
	}
	s.index++
	s.last = m.Time
	s.result.Moments++

	if !s.gate.open {
		return s.awaitGate(idx, m)
	}
	return s.route(idx, m)
}

// awaitGate advances the start gate. The first touch arms it; the first
// "add a stroke" after that opens it and replays the armed touch so the
// first phase starts at the touch.
func (s *Scanner) awaitGate(idx int, m moment.Moment) error {
	switch {
	case s.gate.armed == nil && m.Name == moment.UserTouchesScreen:
		armed := m
		s.gate.armed = &armed
		return nil

	case s.gate.armed != nil && m.Name == moment.AddStroke:
		s.gate.open = true
		s.result.GateOpened = true
		s.result.GateOpenedAt = s.gate.armed.Time
		s.logger.Debug("gate opened",
			"touch_at", s.gate.armed.Time,
			"touch_source", s.gate.armed.Source,
			"stroke_at", m.Time,
			"stroke_source", m.Source,
		)
		if err := s.route(idx, *s.gate.armed); err != nil {
			return err
		}
		return s.route(idx, m)

	default:
		s.result.Ignored++
		return nil
	}
}

// route offers m to the in-flight phases oldest-first, then falls back to
// spawning a phase or dropping the moment.
func (s *Scanner) route(idx int, m moment.Moment) error {
	event := m.Event()

	if p := s.queue.First(event); p != nil {
		if err := p.Transit(event, m.Time); err != nil {
			return NewInvariantError(idx, event, p.Seq(), "phase accepted event but failed to transit", err)
		}
		s.result.Consumed++
		s.logger.Debug("moment consumed",
			"event", event,
			"phase", p.Seq(),
			"stage", p.CurrentStage(),
		)
		if p.IsFinished() {
			return s.complete(idx, event, p)
		}
		return nil
	}

	if moment.IsPhaseTrigger(m.Name) {
		return s.spawn(idx, m)
	}

	s.result.Dropped++
	s.logger.Debug("moment dropped", "event", event, "at", m.Time)
	return nil
}

// spawn creates a phase hosted by the moment's source.
func (s *Scanner) spawn(idx int, m moment.Moment) error {
	p, err := phase.New(m.Time, m.Source, m.Source.Other())
	if err != nil {
		return NewInvariantError(idx, m.Event(), 0, "cannot start phase", err)
	}
	p.SetSeq(s.clock.Next())
	s.queue.Push(p)
	s.result.Spawned++
	s.logger.Debug("phase spawned",
		"phase", p.Seq(),
		"host", p.Host(),
		"at", m.Time,
		"in_flight", s.queue.Len(),
	)
	return nil
}

// complete emits a finished phase and removes it from the in-flight set.
func (s *Scanner) complete(idx int, event string, p *phase.Phase) error {
	out, err := p.Output()
	if err != nil {
		return NewInvariantError(idx, event, p.Seq(), "finished phase has no output", err)
	}
	if !s.queue.Remove(p) {
		return NewInvariantError(idx, event, p.Seq(), "finished phase not in flight", nil)
	}
	s.result.Phases = append(s.result.Phases, out)
	s.logger.Debug("phase finished",
		"phase", p.Seq(),
		"host", p.Host(),
		"in_flight", s.queue.Len(),
	)
	return nil
}

// InFlight returns the number of phases awaiting their next event.
func (s *Scanner) InFlight() int {
	return s.queue.Len()
}

// GateOpen reports whether the start gate has been satisfied.
func (s *Scanner) GateOpen() bool {
	return s.gate.open
}

// Finish ends the scan and returns the result. Phases still in flight are
// reported in Unfinished and never appear in Phases. Further calls return
// the same result.
func (s *Scanner) Finish() *Result {
	if !s.finished {
		s.finished = true
		if !s.gate.open && s.gate.armed != nil {
			s.result.Ignored++
		}
		for _, p := range s.queue.Snapshot() {
			s.result.Unfinished = append(s.result.Unfinished, Pending{
				Seq:    p.Seq(),
				Host:   p.Host(),
				Stage:  p.CurrentStage(),
				Stages: p.Snapshot(),
			})
		}
		s.logger.Info("scan complete",
			"moments", s.result.Moments,
			"phases", len(s.result.Phases),
			"spawned", s.result.Spawned,
			"dropped", s.result.Dropped,
			"unfinished", len(s.result.Unfinished),
			"gate_opened", s.result.GateOpened,
		)
	}
	res := s.result
	return &res
}
