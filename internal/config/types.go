package config

import (
	"fmt"
	"time"
)

// Duration is a non-negative time.Duration read from text such as "90s" in
// config.yaml or FEEDBACKD_TRAINING_PHASE_TIMEOUT.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in the same form UnmarshalText accepts.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds a config value that carries credentials, such as a NATS URL
// with a password. Formatting and text encoding print a placeholder; only
// Value returns the real string.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v redacted too.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// MarshalText redacts the value for JSON and other text encoders.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Value returns the unredacted string. Pass it straight to the client that
// needs it and never log it.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool {
	return s != ""
}
