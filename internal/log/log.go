// Package log builds the process-wide zap logger.
package log

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// NewLogFormat creates LogFormat from string.
// On invalid value JSON is used as default with an error.
func NewLogFormat(format string) (LogFormat, error) {
	logFormat := LogFormat(format)

	switch logFormat {
	case LogFormatConsole, LogFormatJSON:
		return logFormat, nil
	default:
		return LogFormatJSON, errors.New(`log format must be "console" or "json"`)
	}
}

// New returns a logger writing to stderr at the given level.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	logFormat, err := NewLogFormat(format)
	if err != nil {
		return nil, err
	}
	return zap.New(newCore(os.Stderr, lvl, logFormat), zap.AddCaller()), nil
}

func newCore(w zapcore.WriteSyncer, level zapcore.Level, format LogFormat) zapcore.Core {
	var encoder zapcore.Encoder
	switch format {
	case LogFormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "time"
		cfg.MessageKey = "message"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewCore(encoder, zapcore.Lock(w), level)
}
