package utils

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, console
	File   string // empty for stderr

	// MaxSize rotates File once it would grow past this many bytes.
	MaxSize    int64
	MaxBackups int
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger builds a zap logger. The returned AtomicLevel can be changed at
// runtime.
func NewLogger(cfg LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	atom := zap.NewAtomicLevelAt(level)
	zc.Level = atom
	zc.OutputPaths = []string{"stderr"}

	if cfg.File == "" {
		logger, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
		if err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("failed to build logger: %w", err)
		}
		return logger, atom, nil
	}

	sink, err := NewRotatingFile(RotationConfig{
		Filename:   cfg.File,
		MaxBytes:   cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to open log file: %w", err)
	}

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(zc.EncoderConfig)
	}
	core := zapcore.NewCore(enc, sink, atom)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, atom, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// FormatBytes formats bytes as a human-readable IEC string.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return humanize.IBytes(uint64(bytes))
}

// ParseBytes parses a human-readable byte string such as "512MiB" or "10GB".
// SI suffixes are powers of 1000, IEC suffixes powers of 1024.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n > uint64(1<<63-1) {
		return 0, fmt.Errorf("byte size %q overflows int64", s)
	}
	return int64(n), nil
}
