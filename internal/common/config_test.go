package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Positive(t, config.Harness.Slots)
	assert.Equal(t, "tests", config.Harness.SpecFileName)
	assert.Equal(t, "info", config.Logging.Level)
	require.NoError(t, config.Validate())

	timeout, err := config.JobTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)

	interval, err := config.ProgressInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, interval)

	assert.Equal(t, config.Harness.Slots, config.WorkerCount())
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[harness]
slots = 4
timeout = "1m"

[logging]
level = "debug"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[harness]
slots = 8
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	// Later files override earlier files
	assert.Equal(t, 8, config.Harness.Slots)
	assert.Equal(t, "debug", config.Logging.Level)

	timeout, err := config.JobTimeout()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, timeout)
}

func TestLoadFromFilesMissing(t *testing.T) {
	_, err := LoadFromFiles("/no/such/probo.toml")
	assert.Error(t, err)
}

func TestValidateBadTimeout(t *testing.T) {
	config := NewDefaultConfig()
	config.Harness.Timeout = "not a duration"
	assert.Error(t, config.Validate())
}

func TestValidateBadCron(t *testing.T) {
	config := NewDefaultConfig()
	config.Schedule.Enabled = true
	config.Schedule.Cron = "not a schedule"
	assert.Error(t, config.Validate())

	config.Schedule.Cron = "*/5 * * * *"
	assert.NoError(t, config.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROBO_SLOTS", "16")
	t.Setenv("PROBO_LOG_LEVEL", "warn")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 16, config.Harness.Slots)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestWorkerCountOverride(t *testing.T) {
	config := NewDefaultConfig()
	config.Harness.Slots = 4
	config.Harness.Workers = 2
	assert.Equal(t, 2, config.WorkerCount())
}
