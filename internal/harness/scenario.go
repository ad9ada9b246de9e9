package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/testutil"
)

// Scenario is one timeline and the phases it must produce.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is an RFC 3339 time; offsets are relative to it.
	// Default: testutil.Epoch.
	Start string `yaml:"start,omitempty"`

	Moments    []MomentStep `yaml:"moments"`
	Assertions []Assertion  `yaml:"assertions,omitempty"`

	// ExpectError is a scanner error code the scan must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// MomentStep is one moment of the timeline.
type MomentStep struct {
	// At is the offset from Start in milliseconds.
	At     int    `yaml:"at"`
	Source string `yaml:"source"`
	Name   string `yaml:"name"`

	// From and To default as for captured packets: uploads go to the
	// cloud, downloads come from it, everything else stays on the device.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	Meta map[string]string `yaml:"meta,omitempty"`
}

// Assertion checks one property of a scan.
type Assertion struct {
	Type string `yaml:"type"`

	// Phase is the 1-based completion index (stage, no_stage, e2e).
	Phase int    `yaml:"phase,omitempty"`
	Stage string `yaml:"stage,omitempty"`

	// Millisecond offsets and durations; nil means unchecked.
	Start    *int `yaml:"start,omitempty"`
	End      *int `yaml:"end,omitempty"`
	Duration *int `yaml:"duration,omitempty"`
	Open     bool `yaml:"open,omitempty"`

	// Count is used by phase_count and unfinished.
	Count *int `yaml:"count,omitempty"`

	Ignored  *int `yaml:"ignored,omitempty"`
	Consumed *int `yaml:"consumed,omitempty"`
	Spawned  *int `yaml:"spawned,omitempty"`
	Dropped  *int `yaml:"dropped,omitempty"`
}

// Assertion types.
const (
	AssertPhaseCount = "phase_count"
	AssertStage      = "stage"
	AssertNoStage    = "no_stage"
	AssertE2E        = "e2e"
	AssertUnfinished = "unfinished"
	AssertCounters   = "counters"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// StartTime returns the parsed start, or testutil.Epoch when unset.
func (s *Scenario) StartTime() (time.Time, error) {
	if s.Start == "" {
		return testutil.Epoch, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t, nil
}

// Timeline builds the scenario's moments in file order.
func (s *Scenario) Timeline() ([]moment.Moment, error) {
	start, err := s.StartTime()
	if err != nil {
		return nil, err
	}

	b := testutil.NewTimeline(start)
	for _, step := range s.Moments {
		b.Add(step.At, moment.Role(step.Source), step.Name, metaPairs(step.Meta)...)
	}
	moments := b.Moments()
	for i, step := range s.Moments {
		if step.From != "" {
			moments[i].From = step.From
		}
		if step.To != "" {
			moments[i].To = step.To
		}
	}
	return moments, nil
}

func metaPairs(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, meta[k])
	}
	return pairs
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Moments) == 0 {
		return fmt.Errorf("moments must not be empty")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}
	for i, step := range s.Moments {
		if _, err := moment.ParseRole(step.Source); err != nil {
			return fmt.Errorf("moments[%d]: %w", i, err)
		}
		if step.Name == "" {
			return fmt.Errorf("moments[%d]: name is required", i)
		}
	}
	switch s.ExpectError {
	case "", string(engine.ErrCodeUnsortedTimeline), string(engine.ErrCodeInvariantViolation):
	default:
		return fmt.Errorf("expect_error: unknown error code %q", s.ExpectError)
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	needPhase := func() error {
		if a.Phase < 1 {
			return fmt.Errorf("assertions[%d]: phase must be >= 1 for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertPhaseCount, AssertUnfinished:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertStage:
		if err := needPhase(); err != nil {
			return err
		}
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for stage", index)
		}
		if a.Open && (a.End != nil || a.Duration != nil) {
			return fmt.Errorf("assertions[%d]: open excludes end and duration", index)
		}
	case AssertNoStage:
		if err := needPhase(); err != nil {
			return err
		}
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for no_stage", index)
		}
	case AssertE2E:
		if err := needPhase(); err != nil {
			return err
		}
		if a.Duration == nil {
			return fmt.Errorf("assertions[%d]: duration is required for e2e", index)
		}
	case AssertCounters:
		if a.Ignored == nil && a.Consumed == nil && a.Spawned == nil && a.Dropped == nil {
			return fmt.Errorf("assertions[%d]: counters needs at least one of ignored, consumed, spawned, dropped", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
