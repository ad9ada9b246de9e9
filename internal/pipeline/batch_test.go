package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll_FailuresDoNotStopOthers(t *testing.T) {
	targets, err := Discover(datasets)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		handled []string
	)
	outcomes, err := RunAll(context.Background(), targets, testConfig(), func(_ context.Context, tg Target, out *RunOutput) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, tg.Experiment+"/"+tg.Name)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Error(t, outcomes[0].Err, "lte/run1 has no resolver")
	assert.Nil(t, outcomes[0].Output)

	assert.NoError(t, outcomes[1].Err)
	require.NotNil(t, outcomes[1].Output)
	assert.Len(t, outcomes[1].Output.Result.Phases, 1)

	assert.ErrorIs(t, outcomes[2].Err, ErrNoCloudIP)

	assert.Equal(t, []string{"wifi/run1"}, handled)
	assert.Equal(t, 2, Failed(outcomes))
}

func TestRunAll_HandlerErrorIsRecorded(t *testing.T) {
	boom := errors.New("boom")
	outcomes, err := RunAll(context.Background(), []Target{wifiRun("run1")}, testConfig(),
		func(context.Context, Target, *RunOutput) error { return boom })
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, boom)
	assert.Nil(t, outcomes[0].Output)
}

func TestRunAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := RunAll(ctx, []Target{wifiRun("run1"), wifiRun("run1")}, testConfig(), nil)
	require.ErrorIs(t, err, context.Canceled)
	for _, oc := range outcomes {
		assert.ErrorIs(t, oc.Err, context.Canceled)
	}
}

func TestRunAll_Empty(t *testing.T) {
	outcomes, err := RunAll(context.Background(), nil, testConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
