package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "feedbackd", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.NoError(t, cfg.Validate())
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:        true,
		Endpoint:       "otel.internal:4318",
		Protocol:       "http",
		ServiceVersion: "1.4.0",
		SampleRate:     0.25,
		MetricsEnabled: true,
		ExportInterval: config.Duration(30 * time.Second),
	}, true)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, "feedbackd", cfg.ServiceName, "empty name keeps default")
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.Equal(t, 30*time.Second, cfg.ExportInterval)
	assert.True(t, cfg.LogsEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"disabled ignores bad values", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, "protocol must be"},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, "service_name"},
		{"insecure remote", func(c *Config) { c.Endpoint = "collector.example.com:4317" }, "insecure export"},
		{"secure remote", func(c *Config) { c.Endpoint = "collector.example.com:4317"; c.Insecure = false }, ""},
		{"sample rate high", func(c *Config) { c.SampleRate = 1.5 }, "sample_rate"},
		{"sample rate negative", func(c *Config) { c.SampleRate = -0.1 }, "sample_rate"},
		{"zero interval", func(c *Config) { c.ExportInterval = 0 }, "export_interval"},
		{"zero interval without metrics", func(c *Config) { c.ExportInterval = 0; c.MetricsEnabled = false }, ""},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := map[string]bool{
		"localhost:4317":          true,
		"LOCALHOST:4317":          true,
		"127.0.0.1:4317":          true,
		"127.10.0.1:4317":         true,
		"[::1]:4317":              true,
		"::1":                     true,
		"http://localhost:4318":   true,
		"localhost":               true,
		"collector:4317":          false,
		"10.0.0.5:4317":           false,
		"https://otel.example.io": false,
		"localhost.evil.com:4317": false,
	}
	for endpoint, want := range tests {
		cfg := &Config{Endpoint: endpoint}
		assert.Equal(t, want, cfg.isLocalEndpoint(), endpoint)
	}
}
