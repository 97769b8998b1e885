package infra

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log rotation limits.
const (
	LogMaxSizeMB  = 10
	LogMaxBackups = 5
	LogMaxAgeDays = 28
)

// NewLogger builds the supervisor logger writing one console-encoded line
// per event to a rotating file at path. If the file cannot be prepared the
// logger writes to stderr instead; logging never fails the caller.
func NewLogger(path string, level zapcore.Level) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	sink, err := logSink(path)
	if err != nil {
		sink = zapcore.Lock(os.Stderr)
		err = fmt.Errorf("log file %s unavailable, using stderr: %w", path, err)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(io.Discard))), err
}

func logSink(path string) (zapcore.WriteSyncer, error) {
	if path == "" {
		return nil, fmt.Errorf("no log path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Open once so an unwritable path falls back instead of dropping lines.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    LogMaxSizeMB,
		MaxBackups: LogMaxBackups,
		MaxAge:     LogMaxAgeDays,
		LocalTime:  true,
	}), nil
}
