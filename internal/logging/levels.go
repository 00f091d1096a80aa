package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug (-2). Used for per-record classifier output
// and other chatter that is almost always filtered.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, case-insensitively, accepting "trace"
// in addition to zap's own names. An empty string is Info.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
