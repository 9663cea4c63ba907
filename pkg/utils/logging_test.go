package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: zapcore.DebugLevel},
		{name: "info level", input: "INFO", expected: zapcore.InfoLevel},
		{name: "empty defaults to info", input: "", expected: zapcore.InfoLevel},
		{name: "warn level", input: "WARN", expected: zapcore.WarnLevel},
		{name: "warning level", input: "WARNING", expected: zapcore.WarnLevel},
		{name: "error level", input: "ERROR", expected: zapcore.ErrorLevel},
		{name: "case insensitive", input: "debug", expected: zapcore.DebugLevel},
		{name: "invalid level", input: "INVALID", expected: zapcore.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("writes json to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "bucketfs.log")
		logger, level, err := NewLogger(LogConfig{Level: "WARN", File: logFile})
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept")
		_ = logger.Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"kept"`)
		assert.NotContains(t, string(data), "dropped")
		assert.Equal(t, zapcore.WarnLevel, level.Level())
	})

	t.Run("rejects invalid level", func(t *testing.T) {
		_, _, err := NewLogger(LogConfig{Level: "LOUD"})
		assert.Error(t, err)
	})

	t.Run("nil logger becomes nop", func(t *testing.T) {
		assert.NotNil(t, OrNop(nil))
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input))
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{input: "1024", expected: 1024},
		{input: "1KiB", expected: 1024},
		{input: "1 MiB", expected: 1024 * 1024},
		{input: "2GiB", expected: 2 * 1024 * 1024 * 1024},
		{input: "10GB", expected: 10 * 1000 * 1000 * 1000},
		{input: "", wantErr: true},
		{input: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBytes(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewLogger_RotatesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bucketfs.log")
	logger, _, err := NewLogger(LogConfig{Level: "INFO", File: logFile, MaxSize: 200, MaxBackups: 1})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		logger.Info("filling the log file past its limit")
	}
	_ = logger.Sync()

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(logFile), "bucketfs-*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
