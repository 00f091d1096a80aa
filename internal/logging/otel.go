package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// instrumentationScope names the OTEL logger that receives bridged entries.
const instrumentationScope = "github.com/fyrsmithlabs/feedbackd"

// newCore tees stdout and the OTEL bridge according to cfg.Output.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stdout), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		bridge := otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, levelFilter{Core: bridge, min: cfg.Level})
	}

	switch len(cores) {
	case 0:
		return nil, fmt.Errorf("at least one output must be enabled and available")
	case 1:
		return cores[0], nil
	default:
		return zapcore.NewTee(cores...), nil
	}
}

// levelFilter applies the configured minimum level to a core that has none
// of its own.
type levelFilter struct {
	zapcore.Core
	min zapcore.Level
}

func (f levelFilter) Enabled(l zapcore.Level) bool {
	return l >= f.min && f.Core.Enabled(l)
}

func (f levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return levelFilter{Core: f.Core.With(fields), min: f.min}
}

func (f levelFilter) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.Enabled(e.Level) {
		return ce
	}
	return f.Core.Check(e, ce)
}
