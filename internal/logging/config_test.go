package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stdout)
	assert.False(t, cfg.Output.OTEL)
	assert.True(t, cfg.Caller.Enabled)
	assert.Equal(t, 2, cfg.Caller.Skip)
	assert.Equal(t, zapcore.ErrorLevel, cfg.Stacktrace.Level)
	assert.Equal(t, "feedbackd", cfg.Fields["service"])
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"invalid format", func(c *Config) { c.Format = "xml" }, "format must be 'json' or 'console'"},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }, "at least one output must be enabled"},
		{"negative caller skip", func(c *Config) { c.Caller.Skip = -1 }, "caller skip must be >= 0"},
		{"empty field key", func(c *Config) { c.Fields[""] = "x" }, "field key cannot be empty"},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, `field "env" has empty value`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestConfig_ValidateCallerSkipIgnoredWhenDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Caller = CallerConfig{Enabled: false, Skip: -1}
	assert.NoError(t, cfg.Validate())
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "trace", Format: "console", Stdout: true, OTEL: true})
	require.NoError(t, err)

	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, OutputConfig{Stdout: true, OTEL: true}, cfg.Output)
	assert.Equal(t, "feedbackd", cfg.Fields["service"])
}

func TestFromSettings_EmptyKeepsDefaults(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Stdout: true})
	require.NoError(t, err)

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestFromSettings_Errors(t *testing.T) {
	_, err := FromSettings(config.LoggingConfig{Level: "loud", Stdout: true})
	assert.Error(t, err)

	_, err = FromSettings(config.LoggingConfig{Level: "info"})
	assert.ErrorContains(t, err, "at least one output")
}
