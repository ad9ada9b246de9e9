package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrace/internal/config"
	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

const datasets = "testdata/datasets"

var epoch = time.Date(2023, 4, 7, 15, 16, 47, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Workers = 2
	return cfg
}

func wifiRun(name string) Target {
	return Target{
		Experiment:  "wifi",
		Name:        name,
		HostDir:     filepath.Join(datasets, "wifi", "host", name),
		ResolverDir: filepath.Join(datasets, "wifi", "resolver", name),
	}
}

func assertSpan(t *testing.T, out phase.Output, name string, startMs, endMs int) {
	t.Helper()
	span, ok := out.Stage(name)
	require.True(t, ok, "missing stage %q", name)
	assert.True(t, span.Start.Equal(at(startMs)), "%s start: %s", name, span.Start)
	assert.True(t, span.End.Equal(at(endMs)), "%s end: %s", name, span.End)
}

func TestRun_SingleInteraction(t *testing.T) {
	cfg := testConfig()
	out, err := Run(context.Background(), wifiRun("run1").Input(cfg), cfg)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2", out.PhoneIP)
	assert.Equal(t, "142.250.1.1", out.CloudIP)
	assert.True(t, out.Start.Equal(at(0)))
	assert.True(t, out.End.Equal(at(237)))

	assert.Len(t, out.Sources.HostLog, 2)
	assert.Len(t, out.Sources.ResolverLog, 2)
	assert.Len(t, out.Sources.HostCapture, 2, "packet before the window is excluded")
	assert.Len(t, out.Sources.ResolverCapture, 2, "non-relay and late packets are excluded")

	names := make([]string, len(out.Moments))
	for i, m := range out.Moments {
		names[i] = m.Name
	}
	assert.Equal(t, []string{
		moment.UserTouchesScreen,
		moment.AddStroke,
		moment.SendDataPktToCloud,
		moment.ReceiveAckPktFromCloud,
		moment.ReceiveDataPktFromCloud,
		moment.SendAckPktToCloud,
		moment.ReceivePointUpdates,
		moment.FinishRendering,
	}, names)

	res := out.Result
	require.Len(t, res.Phases, 1)
	assert.True(t, res.GateOpened)
	assert.Equal(t, 8, res.Moments)
	assert.Equal(t, 1, res.Spawned)
	assert.Equal(t, 4, res.Consumed)
	assert.Equal(t, 3, res.Dropped)
	assert.Empty(t, res.Unfinished)

	p := res.Phases[0]
	assert.Equal(t, moment.RoleHost, p.Host)
	assertSpan(t, p, "host: local action", 0, 20)
	assertSpan(t, p, "host: data transmission", 20, 65)
	assertSpan(t, p, "cloud: processing", 65, 130)
	assertSpan(t, p, "resolver: rendering", 130, 237)
}

func TestRun_Traffic(t *testing.T) {
	cfg := testConfig()

	out, err := Run(context.Background(), wifiRun("run1").Input(cfg), cfg)
	require.NoError(t, err)
	assert.Nil(t, out.Traffic, "traffic is opt-in")

	in := wifiRun("run1").Input(cfg)
	in.Traffic = true
	out, err = Run(context.Background(), in, cfg)
	require.NoError(t, err)

	require.Len(t, out.Traffic, 1, "relay packets and packets outside the window are excluded")
	m := out.Traffic[0]
	assert.Equal(t, moment.TCPDataPkt, m.Name)
	assert.Equal(t, moment.RoleResolver, m.Source)
	assert.Equal(t, "10.0.0.3", m.From)
	assert.Equal(t, "172.217.0.1", m.To)
	assert.True(t, m.Time.Equal(at(135)))
	assert.Len(t, out.Result.Phases, 1, "traffic does not reach the scanner")

	in.TrafficIPs = []string{"8.8.8.8"}
	out, err = Run(context.Background(), in, cfg)
	require.NoError(t, err)
	assert.Empty(t, out.Traffic)
}

func TestRun_NoCloudIP(t *testing.T) {
	cfg := testConfig()
	_, err := Run(context.Background(), wifiRun("run2").Input(cfg), cfg)
	require.ErrorIs(t, err, ErrNoCloudIP)
}

func TestRun_MissingResolver(t *testing.T) {
	cfg := testConfig()
	target := Target{
		Experiment:  "lte",
		Name:        "run1",
		HostDir:     filepath.Join(datasets, "lte", "host", "run1"),
		ResolverDir: filepath.Join(datasets, "lte", "resolver", "run1"),
	}
	_, err := Run(context.Background(), target.Input(cfg), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_EmptyLog(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(empty, []byte("04-07 15:16:47.000 1 1 I other: nothing\n"), 0o644))

	cfg := testConfig()
	in := wifiRun("run1").Input(cfg)
	in.HostLog = empty

	_, err := Run(context.Background(), in, cfg)
	require.ErrorIs(t, err, ErrEmptyLog)
}

func TestRun_BadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err := Run(context.Background(), wifiRun("run1").Input(cfg), cfg)
	require.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	_, err := Run(ctx, wifiRun("run1").Input(cfg), cfg)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInputFromDirs(t *testing.T) {
	cfg := testConfig()
	cfg.AppLog = "static_log.logcat"
	cfg.Capture = "packets.csv"

	in := InputFromDirs("a/host/r", "a/resolver/r", cfg)
	assert.Equal(t, RunInput{
		HostLog:         filepath.Join("a/host/r", "static_log.logcat"),
		HostCapture:     filepath.Join("a/host/r", "packets.csv"),
		ResolverLog:     filepath.Join("a/resolver/r", "static_log.logcat"),
		ResolverCapture: filepath.Join("a/resolver/r", "packets.csv"),
	}, in)
}
