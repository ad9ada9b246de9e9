package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeInvalidConfig writes a config violating the schema bounds.
func writeInvalidConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))
	return path
}

type validateResponse struct {
	Status string           `json:"status"`
	Data   ValidationResult `json:"data"`
	Error  *CLIError        `json:"error"`
}

func TestValidate_Defaults(t *testing.T) {
	t.Setenv("PHASETRACE_WORKERS", "")
	stdout, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ (defaults) is valid")
	assert.Contains(t, stdout, "workers=4")
	assert.Contains(t, stdout, "app_log=app.log")
}

func TestValidate_FileArgument(t *testing.T) {
	path := writeConfig(t)

	stdout, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp validateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, path, resp.Data.Source)
	require.NotNil(t, resp.Data.Config)
	assert.Equal(t, "UTC", resp.Data.Config.Timezone)
	assert.Equal(t, 2, resp.Data.Config.Workers)
}

func TestValidate_ConfigFlag(t *testing.T) {
	path := writeConfig(t)

	stdout, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "timezone=UTC")
}

func TestValidate_Invalid(t *testing.T) {
	path := writeInvalidConfig(t)

	stdout, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ "+path)
	assert.Contains(t, stdout, "workers")
}

func TestValidate_InvalidJSON(t *testing.T) {
	path := writeInvalidConfig(t)

	stdout, err := execute(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp validateResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.Errors)
}

func TestValidate_SyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("workers: [\n"), 0o644))

	_, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "config file not found")
}
