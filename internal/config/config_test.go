package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/teralab/teractl/internal/config"
	"codeberg.org/teralab/teractl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teractl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
operator = "mk"
sample = "GaAs"

[instruments."THz System"]
address = "192.168.134.188"

[instruments."Field Controller"]
address = "192.168.0.20"

[thz]
timeout = "90s"
channel = 2

[field]
safety_margin = 1.5
stabilization = "20s"

[runner]
quantum = "20ms"

[sweep]
axis = "field"
start = 0.0
stop = 2.0
step = 0.5
dwell = 1.5
`)
	t.Setenv("TERACTL_CONFIG", path)

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "mk", cfg.Operator)
	assert.Equal(t, "GaAs", cfg.Sample)
	assert.Equal(t, "192.168.134.188", cfg.Address(config.InstrumentTHz))
	assert.Equal(t, "192.168.0.20", cfg.Address(config.InstrumentField))
	assert.Empty(t, cfg.Address(config.InstrumentTemperature))
	assert.Equal(t, 90*time.Second, cfg.THz.Timeout)
	assert.Equal(t, 2, cfg.THz.Channel)
	assert.InDelta(t, 1.5, cfg.Field.SafetyMargin, 1e-9)
	assert.Equal(t, 20*time.Second, cfg.Field.Stabilization)
	assert.Equal(t, 20*time.Millisecond, cfg.Runner.Quantum)
	assert.Equal(t, "field", cfg.Sweep.Axis)
	assert.InDelta(t, 0.5, cfg.Sweep.Step, 1e-9)
	assert.InDelta(t, 1.5, cfg.Sweep.Dwell, 1e-9)
	assert.Equal(t, path, cfg.File())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TERACTL_CONFIG", "")

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 1, cfg.THz.Channel)
	assert.InDelta(t, 1.3, cfg.Field.SafetyMargin, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Field.Stabilization)
	assert.Equal(t, 30*time.Second, cfg.Field.SettleSlack)
	assert.Equal(t, 50*time.Millisecond, cfg.Runner.Quantum)
	assert.Equal(t, "count", cfg.Sweep.Axis)
	assert.False(t, cfg.Simulate)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "warning"

[sweep]
dwell = 3.0
`)

	cfg, err := config.LoadArgs([]string{
		"--config", path,
		"--log-level", "error",
		"--thz-address", "10.0.0.5",
		"--dwell", "0.25",
		"--simulate",
		"--query", "THz System=RD-RUN",
	})
	require.NoError(t, err)

	assert.Equal(t, config.LogLevelError, cfg.LogLevel)
	assert.Equal(t, "10.0.0.5", cfg.Address(config.InstrumentTHz))
	assert.InDelta(t, 0.25, cfg.Sweep.Dwell, 1e-9)
	assert.True(t, cfg.Simulate)
	assert.Equal(t, []string{"THz System=RD-RUN"}, cfg.Queries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TERACTL_CONFIG", "")
	t.Setenv("TERACTL_THZ_CHANNEL", "2")
	t.Setenv("TERACTL_OPERATOR", "night-shift")

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.THz.Channel)
	assert.Equal(t, "night-shift", cfg.Operator)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("TERACTL_CONFIG", path)

	_, err := config.LoadArgs(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestValidate(t *testing.T) {
	t.Setenv("TERACTL_CONFIG", "")

	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }, errors.ErrInvalidLogLevel},
		{"thz timeout", func(c *config.Config) { c.THz.Timeout = 0 }, config.ErrInvalidTimeout},
		{"mercury timeout", func(c *config.Config) { c.Mercury.Timeout = -time.Second }, config.ErrInvalidTimeout},
		{"quantum", func(c *config.Config) { c.Runner.Quantum = 0 }, config.ErrInvalidQuantum},
		{"safety margin", func(c *config.Config) { c.Field.SafetyMargin = 0.9 }, config.ErrInvalidSafetyMargin},
		{"channel", func(c *config.Config) { c.THz.Channel = 3 }, config.ErrInvalidChannel},
		{"settle slack", func(c *config.Config) { c.Field.SettleSlack = -time.Second }, config.ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadArgs(nil)
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestSaveAddress(t *testing.T) {
	path := writeConfig(t, `
operator = "mk"
`)
	t.Setenv("TERACTL_CONFIG", path)

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)

	require.NoError(t, cfg.SaveAddress(config.InstrumentTemperature, "192.168.0.10"))
	assert.Equal(t, "192.168.0.10", cfg.Address(config.InstrumentTemperature))

	reloaded, err := config.LoadArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.10", reloaded.Address(config.InstrumentTemperature))
	assert.Equal(t, "mk", reloaded.Operator)
}
