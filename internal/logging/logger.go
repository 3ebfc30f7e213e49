// Package logging builds the zap loggers used across recalld.
//
// The worker daemon logs JSON to stderr by default; hook invocations use
// the console encoder so debugging output stays readable when a hook is
// run by hand. Hooks must never write log output to stdout: stdout is the
// channel back to the host assistant (context injection).
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's DebugLevel for very chatty capture logging.
const TraceLevel = zapcore.Level(-2)

// New creates a zap logger writing to stderr.
//
// level is one of trace, debug, info, warn, error. format is json or
// console.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl)
	return zap.New(core), nil
}

// parseLevel maps a level name to a zapcore.Level, including trace.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", level)
	}
}
