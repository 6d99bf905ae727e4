package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileName is the structured log written inside the log directory.
const FileName = "jh.log"

// Options configures New.
type Options struct {
	// Dir receives jh.log. Empty disables the file sink.
	Dir string
	// Level is a zap level name; empty means info.
	Level string
	// Console receives human-readable output; defaults to stderr.
	Console io.Writer
}

// New builds a logger that writes a console stream plus JSON lines appended to
// <Dir>/jh.log so failures stay inspectable after the terminal is gone. The
// returned close function flushes and releases the file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if name := strings.TrimSpace(opts.Level); name != "" {
		parsed, err := zapcore.ParseLevel(name)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(console), level),
	}

	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open log file: %w", err)
		}
		file = f
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		_ = logger.Sync()
		if file == nil {
			return nil
		}
		return file.Close()
	}
	return logger, closeFn, nil
}
