package phase

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrace/internal/fsm"
	"github.com/roach88/phasetrace/internal/moment"
)

var t0 = time.Date(2023, 4, 7, 15, 16, 47, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func ev(role moment.Role, name string) string {
	return moment.EventKey(role, name)
}

func newHostPhase(t *testing.T) *Phase {
	t.Helper()
	p, err := New(at(0), moment.RoleHost, moment.RoleResolver)
	require.NoError(t, err)
	return p
}

func TestNew_RejectsBadRoles(t *testing.T) {
	_, err := New(at(0), moment.RoleHost, moment.RoleHost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")

	_, err = New(at(0), "cloud", moment.RoleResolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid roles")
}

func TestNew_OpensLocalAction(t *testing.T) {
	p := newHostPhase(t)

	assert.Equal(t, "host: local action", p.CurrentStage())
	assert.False(t, p.IsFinished())

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "host: local action", snap[0].Name)
	assert.Equal(t, at(0), snap[0].Start)
	assert.False(t, snap[0].Closed())
}

func TestPhase_FullPipeline(t *testing.T) {
	p := newHostPhase(t)

	steps := []struct {
		event string
		ms    int
		stage string
	}{
		{ev(moment.RoleHost, moment.SendDataPktToCloud), 20, "host: data transmission"},
		{ev(moment.RoleHost, moment.ReceiveAckPktFromCloud), 60, "cloud: processing"},
		{ev(moment.RoleResolver, moment.ReceiveDataPktFromCloud), 90, "resolver: rendering"},
		{ev(moment.RoleResolver, moment.FinishRendering), 130, "resolver: done"},
	}
	for _, step := range steps {
		require.True(t, p.IsNextValidEvent(step.event), step.event)
		require.NoError(t, p.Transit(step.event, at(step.ms)))
		assert.Equal(t, step.stage, p.CurrentStage())
	}
	require.True(t, p.IsFinished())

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, moment.RoleHost, out.Host)
	assert.Equal(t, moment.RoleResolver, out.Resolver)
	assert.Equal(t, []Stage{
		{Name: "host: local action", Span: Span{Start: at(0), End: at(20)}},
		{Name: "host: data transmission", Span: Span{Start: at(20), End: at(60)}},
		{Name: "cloud: processing", Span: Span{Start: at(60), End: at(90)}},
		{Name: "resolver: rendering", Span: Span{Start: at(90), End: at(130)}},
	}, out.Stages)

	e2e, ok := out.EndToEnd()
	require.True(t, ok)
	d, ok := e2e.Duration()
	require.True(t, ok)
	assert.Equal(t, 130*time.Millisecond, d)
}

func TestPhase_SelfLoopsExtendLocalAction(t *testing.T) {
	p := newHostPhase(t)

	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.AddPointsToStroke), at(5)))
	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.UserTouchesScreen), at(8)))
	assert.Equal(t, "host: local action", p.CurrentStage())

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, at(0), snap[0].Start, "start never moves")
	assert.Equal(t, at(8), snap[0].End)

	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.SendDataPktToCloud), at(12)))
	snap = p.Snapshot()
	assert.Equal(t, at(12), snap[0].End)
	assert.Equal(t, at(12), snap[1].Start)
}

func TestPhase_RaceCollapsesCloudProcessing(t *testing.T) {
	p := newHostPhase(t)

	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.SendDataPktToCloud), at(20)))
	require.True(t, p.IsNextValidEvent(ev(moment.RoleResolver, moment.ReceiveDataPktFromCloud)))
	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.ReceiveDataPktFromCloud), at(45)))
	assert.Equal(t, "resolver: rendering", p.CurrentStage())
	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.FinishRendering), at(70)))

	out, err := p.Output()
	require.NoError(t, err)

	transmission, ok := out.Stage("host: data transmission")
	require.True(t, ok)
	assert.Equal(t, at(45), transmission.End)

	cloud, ok := out.Stage(StageCloudProcessing)
	require.True(t, ok)
	assert.Equal(t, Span{Start: at(45), End: at(45)}, cloud)
	d, _ := cloud.Duration()
	assert.Zero(t, d)
}

func TestPhase_ResolverInitiated(t *testing.T) {
	p, err := New(at(0), moment.RoleResolver, moment.RoleHost)
	require.NoError(t, err)
	assert.Equal(t, "resolver: local action", p.CurrentStage())

	// Host-side events do not drive a resolver-initiated phase's upload.
	assert.False(t, p.IsNextValidEvent(ev(moment.RoleHost, moment.SendDataPktToCloud)))

	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.SendDataPktToCloud), at(10)))
	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.ReceiveAckPktFromCloud), at(30)))
	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.ReceiveDataPktFromCloud), at(50)))
	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.FinishRendering), at(80)))

	out, err := p.Output()
	require.NoError(t, err)
	names := make([]string, len(out.Stages))
	for i, s := range out.Stages {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		"resolver: local action",
		"resolver: data transmission",
		"cloud: processing",
		"host: rendering",
	}, names)
}

func TestPhase_InvalidTransitionLeavesTimeline(t *testing.T) {
	p := newHostPhase(t)

	err := p.Transit(ev(moment.RoleResolver, moment.FinishRendering), at(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fsm.ErrInvalidTransition))

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Closed())
}

func TestPhase_FinishedIgnoresTransit(t *testing.T) {
	p := finishedPhase(t)
	before, err := p.Output()
	require.NoError(t, err)

	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.SendDataPktToCloud), at(999)))
	after, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPhase_OutputBeforeFinish(t *testing.T) {
	p := newHostPhase(t)
	_, err := p.Output()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFinished))
}

func TestPhase_OutputOmitsTerminal(t *testing.T) {
	out, err := finishedPhase(t).Output()
	require.NoError(t, err)

	for _, s := range out.Stages {
		assert.False(t, strings.HasSuffix(s.Name, ": done"), s.Name)
	}
	_, ok := out.Stage("resolver: done")
	assert.False(t, ok)
}

func TestPhase_OutputSpansAreMonotonic(t *testing.T) {
	out, err := finishedPhase(t).Output()
	require.NoError(t, err)
	for _, s := range out.Stages {
		if s.Closed() {
			assert.False(t, s.End.Before(s.Start), "%s ends before it starts", s.Name)
		}
	}
}

func TestIsTerminalStage(t *testing.T) {
	assert.True(t, IsTerminalStage("resolver: done"))
	assert.True(t, IsTerminalStage("host: done"))
	assert.False(t, IsTerminalStage("done"))
	assert.False(t, IsTerminalStage("resolver: rendering"))
}

func TestOutput_EndToEndMissingRendering(t *testing.T) {
	out := Output{
		Host:     moment.RoleHost,
		Resolver: moment.RoleResolver,
		Stages:   []Stage{{Name: "host: local action", Span: Span{Start: at(0), End: at(1)}}},
	}
	_, ok := out.EndToEnd()
	assert.False(t, ok)

	_, ok = Output{}.EndToEnd()
	assert.False(t, ok)
}

func TestSpan_OpenDuration(t *testing.T) {
	_, ok := Span{Start: at(0)}.Duration()
	assert.False(t, ok)
}

func finishedPhase(t *testing.T) *Phase {
	t.Helper()
	p := newHostPhase(t)
	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.SendDataPktToCloud), at(10)))
	require.NoError(t, p.Transit(ev(moment.RoleHost, moment.ReceiveAckPktFromCloud), at(20)))
	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.ReceiveDataPktFromCloud), at(30)))
	require.NoError(t, p.Transit(ev(moment.RoleResolver, moment.FinishRendering), at(40)))
	require.True(t, p.IsFinished())
	return p
}
