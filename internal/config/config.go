// Package config loads feedbackd configuration from defaults, an optional
// YAML file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds the complete feedbackd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Training  TrainingConfig  `koanf:"training"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Sentiment SentimentConfig `koanf:"sentiment"`
	Events    EventsConfig    `koanf:"events"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"http_port"`
	ShutdownTimeout    Duration `koanf:"shutdown_timeout"`
	TrainRatePerMinute int      `koanf:"train_rate_per_minute"`
	MaxImportBytes     int64    `koanf:"max_import_bytes"`
}

// StoreConfig selects the record and result store.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// TrainingConfig tunes the correlation engine and the orchestrator.
type TrainingConfig struct {
	MinSamples         int      `koanf:"min_samples"`
	Tertile            float64  `koanf:"tertile"`
	MaxKeywords        int      `koanf:"max_keywords"`
	MinTopicTerms      int      `koanf:"min_topic_terms"`
	TermFrequencyFloor int      `koanf:"term_frequency_floor"`
	CommonSections     int      `koanf:"common_sections"`
	SeedBoost          float64  `koanf:"seed_boost"`
	PhaseTimeout       Duration `koanf:"phase_timeout"`
	// Schedule is a cron expression for automatic retraining. Empty disables it.
	Schedule string `koanf:"schedule"`
}

// DashboardConfig holds the insight thresholds.
type DashboardConfig struct {
	HighBar                     float64 `koanf:"high_bar"`
	LowBar                      float64 `koanf:"low_bar"`
	CorrelationInsightThreshold float64 `koanf:"correlation_insight_threshold"`
	MaxInsights                 int     `koanf:"max_insights"`
	ForecastDays                int     `koanf:"forecast_days"`
	ForecastHorizon             int     `koanf:"forecast_horizon"`
}

// SentimentConfig configures the classifier.
type SentimentConfig struct {
	CacheSize    int    `koanf:"cache_size"`
	LexiconPath  string `koanf:"lexicon_path"`
	WatchLexicon bool   `koanf:"watch_lexicon"`
}

// EventsConfig configures training job event publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       Secret `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the subset of logging options exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Stdout bool   `koanf:"stdout"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.TrainRatePerMinute < 0 {
		errs = append(errs, errors.New("train_rate_per_minute cannot be negative"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q (want %s or %s)", c.Store.Driver, DriverSQLite, DriverMemory))
	}

	t := c.Training
	if t.MinSamples < 2 {
		errs = append(errs, fmt.Errorf("training min_samples must be at least 2, got %d", t.MinSamples))
	}
	if t.Tertile <= 0 || t.Tertile > 0.5 {
		errs = append(errs, fmt.Errorf("training tertile must be in (0, 0.5], got %g", t.Tertile))
	}
	if t.MaxKeywords < 1 || t.MinTopicTerms < 1 || t.TermFrequencyFloor < 1 {
		errs = append(errs, errors.New("training keyword limits must be positive"))
	}
	if t.CommonSections < 2 || t.CommonSections > len(feedback.Sections()) {
		errs = append(errs, fmt.Errorf("training common_sections must be in [2, %d], got %d", len(feedback.Sections()), t.CommonSections))
	}
	if t.PhaseTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("training phase_timeout must be positive"))
	}
	if t.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(strings.TrimSpace(t.Schedule)); err != nil {
			errs = append(errs, fmt.Errorf("training schedule %q: %w", t.Schedule, err))
		}
	}

	d := c.Dashboard
	if d.LowBar < 1 || d.HighBar > 5 || d.LowBar > d.HighBar {
		errs = append(errs, fmt.Errorf("dashboard bars must satisfy 1 <= low_bar <= high_bar <= 5, got %g and %g", d.LowBar, d.HighBar))
	}
	if d.CorrelationInsightThreshold < 0 || d.CorrelationInsightThreshold >= 1 {
		errs = append(errs, fmt.Errorf("dashboard correlation_insight_threshold must be in [0, 1), got %g", d.CorrelationInsightThreshold))
	}
	if d.ForecastDays < 1 || d.ForecastHorizon < 1 {
		errs = append(errs, errors.New("dashboard forecast_days and forecast_horizon must be positive"))
	}

	if c.Sentiment.CacheSize < 1 {
		errs = append(errs, errors.New("sentiment cache_size must be positive"))
	}
	if c.Sentiment.WatchLexicon && c.Sentiment.LexiconPath == "" {
		errs = append(errs, errors.New("sentiment watch_lexicon requires lexicon_path"))
	}

	if c.Events.Enabled && !c.Events.NATSURL.IsSet() {
		errs = append(errs, errors.New("events nats_url is required when events are enabled"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol))
		}
	}

	return errors.Join(errs...)
}
