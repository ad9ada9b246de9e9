package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/testutil"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/single_phase.yaml")
	require.NoError(t, err)

	assert.Equal(t, "single_phase", s.Name)
	assert.NotEmpty(t, s.Description)
	require.Len(t, s.Moments, 6)
	assert.Equal(t, MomentStep{
		At: 9, Source: "host", Name: moment.AddStroke,
		Meta: map[string]string{"stroke_id": "-NSSCsksd3t6Qrxa0fqY"},
	}, s.Moments[1])

	require.Len(t, s.Assertions, 8)
	a := s.Assertions[4]
	assert.Equal(t, AssertStage, a.Type)
	require.NotNil(t, a.Duration)
	assert.Equal(t, 107, *a.Duration)
	assert.Nil(t, a.Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nmoment: []\n", "field moment not found"},
		{"missing name", "moments: [{at: 0, source: host, name: a}]\n", "name is required"},
		{"no moments", "name: x\n", "moments must not be empty"},
		{"bad role", "name: x\nmoments: [{at: 0, source: cloud, name: a}]\n", "moments[0]: invalid role"},
		{"moment without name", "name: x\nmoments: [{at: 0, source: host}]\n", "moments[0]: name is required"},
		{"bad start", "name: x\nstart: yesterday\nmoments: [{at: 0, source: host, name: a}]\n", "start:"},
		{"bad error code", "name: x\nexpect_error: NOPE\nmoments: [{at: 0, source: host, name: a}]\n", "unknown error code"},
		{"unknown assertion", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: trace_order}]\n", `unknown assertion type "trace_order"`},
		{"count missing", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: phase_count}]\n", "count is required"},
		{"stage without phase", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: stage, stage: s}]\n", "phase must be >= 1"},
		{"open with end", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: stage, phase: 1, stage: s, open: true, end: 3}]\n", "open excludes"},
		{"e2e without duration", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: e2e, phase: 1}]\n", "duration is required"},
		{"empty counters", "name: x\nmoments: [{at: 0, source: host, name: a}]\nassertions: [{type: counters}]\n", "at least one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarios_SortedByFile(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"in_flight", "overlap", "race", "single_phase", "ungated_noise", "unsorted"}, names)
}

func TestLoadScenarios_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestScenario_Timeline(t *testing.T) {
	s := &Scenario{
		Name:  "t",
		Start: "2023-04-07T15:16:47.5Z",
		Moments: []MomentStep{
			{At: 0, Source: "host", Name: moment.SendDataPktToCloud},
			{At: 3, Source: "resolver", Name: moment.ReceiveDataPktFromCloud, Meta: map[string]string{"size": "412", "type": "data"}},
			{At: 7, Source: "host", Name: moment.TCPDataPkt, From: "10.0.0.2", To: "8.8.8.8"},
		},
	}

	moments, err := s.Timeline()
	require.NoError(t, err)
	require.Len(t, moments, 3)

	start := time.Date(2023, 4, 7, 15, 16, 47, 500_000_000, time.UTC)
	assert.True(t, moments[0].Time.Equal(start))
	assert.Equal(t, "host", moments[0].From)
	assert.Equal(t, moment.EndpointCloud, moments[0].To)

	assert.True(t, moments[1].Time.Equal(start.Add(3*time.Millisecond)))
	assert.Equal(t, moment.EndpointCloud, moments[1].From)
	assert.Equal(t, map[string]string{"size": "412", "type": "data"}, moments[1].Metadata)

	assert.Equal(t, "10.0.0.2", moments[2].From)
	assert.Equal(t, "8.8.8.8", moments[2].To)
}

func TestScenario_DefaultStart(t *testing.T) {
	start, err := (&Scenario{}).StartTime()
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch, start)
}
