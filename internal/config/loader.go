package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// defaults is loaded first so that file and environment values layer on top
// of it key by key.
const defaults = `
server:
  host: 0.0.0.0
  http_port: 8080
  shutdown_timeout: 10s
  train_rate_per_minute: 6
  max_import_bytes: 10485760
store:
  driver: sqlite
  path: ~/.local/share/feedbackd/feedback.db
training:
  min_samples: 5
  tertile: 0.3333333333333333
  max_keywords: 10
  min_topic_terms: 3
  term_frequency_floor: 2
  common_sections: 2
  seed_boost: 0.25
  phase_timeout: 2m
  schedule: ""
dashboard:
  high_bar: 4.0
  low_bar: 3.0
  correlation_insight_threshold: 0.1
  max_insights: 10
  forecast_days: 90
  forecast_horizon: 7
sentiment:
  cache_size: 4096
  lexicon_path: ""
  watch_lexicon: false
events:
  enabled: false
  nats_url: ""
  subject_prefix: feedback.training
logging:
  level: info
  format: json
  stdout: true
  otel: false
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
  service_name: feedbackd
  service_version: 0.1.0
  sample_rate: 1.0
  metrics_enabled: true
  export_interval: 15s
`

// sections are the top-level keys environment variables may address.
var sections = map[string]bool{
	"server": true, "store": true, "training": true, "dashboard": true,
	"sentiment": true, "events": true, "logging": true, "telemetry": true,
}

// Load returns the built-in defaults with environment overrides applied.
func Load() (*Config, error) {
	return load(nil)
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, TRAINING_PHASE_TIMEOUT, etc.)
//  2. YAML config file (~/.config/feedbackd/config.yaml)
//  3. Built-in defaults
//
// A missing file is not an error. An existing file must live under
// ~/.config/feedbackd/ or /etc/feedbackd/, be 0600 or 0400, and be at most 1MB.
//
// Environment variables map SECTION_FIELD_NAME to section.field_name:
//
//	SERVER_HTTP_PORT -> server.http_port
//	STORE_PATH -> store.path
//	DASHBOARD_HIGH_BAR -> dashboard.high_bar
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "feedbackd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	return load(content)
}

func readConfigFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	// Validate through the open descriptor to avoid a TOCTOU race.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

func load(file []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if file != nil {
		if err := k.Load(rawbytes.Provider(file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside the
// known sections are ignored.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// applyDefaults normalizes values the defaults document cannot express.
func applyDefaults(cfg *Config) error {
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Telemetry.Protocol = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Protocol))
	cfg.Training.Schedule = strings.TrimSpace(cfg.Training.Schedule)

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "feedbackd"
	}

	var err error
	if cfg.Store.Path, err = expandHome(cfg.Store.Path); err != nil {
		return err
	}
	if cfg.Sentiment.LexiconPath, err = expandHome(cfg.Sentiment.LexiconPath); err != nil {
		return err
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// EnsureDataDir creates the parent directory of a sqlite store path with
// 0700 permissions.
func EnsureDataDir(storePath string) error {
	dir := filepath.Dir(storePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path is inside an allowed directory. It runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "feedbackd"),
		"/etc/feedbackd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/feedbackd/ or /etc/feedbackd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
