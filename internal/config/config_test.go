package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/fixlib.yaml")
	require.Error(t, err)
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fixlib-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(`
library:
  library_id: 42
  fragment_limit: 5
engines:
  channels:
    - "engine-a:9000"
    - "engine-b:9000"
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := LoadConfig(f.Name())
	require.NoError(t, err)
	assert.Equal(t, int32(42), cfg.Library.LibraryID)
	assert.Equal(t, 5, cfg.Library.FragmentLimit)
	assert.Equal(t, []string{"engine-a:9000", "engine-b:9000"}, cfg.Engines.Channels)
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 10, cfg.Library.FragmentLimit)
	assert.Equal(t, []string{"localhost:9999"}, cfg.Engines.Channels)
	assert.Equal(t, 65536, cfg.Replay.CapacityRecords)
	assert.Equal(t, int64(5000), cfg.Liveness.TimeoutMs)
	assert.Equal(t, 3, cfg.Reconnect.ReconnectAttempts)
}

func TestApplyEnvOverrides_OverridesChannels(t *testing.T) {
	t.Setenv("FIXLIB_ENGINE_CHANNELS", "a:1, b:2 ,c:3")
	cfg := &Config{}
	cfg.applyEnvOverrides()

	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, cfg.Engines.Channels)
}

func TestValidate_RejectsEmptyChannels(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Engines.Channels = nil

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.NoError(t, cfg.Validate())
}
