package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRotatingFile(t *testing.T, cfg RotationConfig) *RotatingFile {
	t.Helper()
	rf, err := NewRotatingFile(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rf.Close() })

	// Deterministic, strictly increasing backup names.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	rf.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return rf
}

func TestNewRotatingFile(t *testing.T) {
	_, err := NewRotatingFile(RotationConfig{})
	assert.Error(t, err)

	logFile := filepath.Join(t.TempDir(), "nested", "bucketfs.log")
	rf := newRotatingFile(t, RotationConfig{Filename: logFile})
	assert.FileExists(t, logFile)
	require.NoError(t, rf.Sync())
}

func TestRotatingFile_RotatesOnSize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bucketfs.log")
	rf := newRotatingFile(t, RotationConfig{Filename: logFile, MaxBytes: 10})

	_, err := rf.Write([]byte("123456\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("abcdef\n"))
	require.NoError(t, err)

	backups, err := rf.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "123456\n", string(old))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "abcdef\n", string(current))
}

func TestRotatingFile_OversizedRecordIsKept(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bucketfs.log")
	rf := newRotatingFile(t, RotationConfig{Filename: logFile, MaxBytes: 4})

	n, err := rf.Write([]byte("longer than four\n"))
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	backups, err := rf.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups, "an empty file is never rotated")
}

func TestRotatingFile_PrunesBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bucketfs.log")
	rf := newRotatingFile(t, RotationConfig{Filename: logFile, MaxBackups: 2})

	for i := 0; i < 4; i++ {
		_, err := rf.Write([]byte("line\n"))
		require.NoError(t, err)
		require.NoError(t, rf.Rotate())
	}

	backups, err := rf.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRotatingFile_Compress(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "bucketfs.log")
	rf := newRotatingFile(t, RotationConfig{Filename: logFile, Compress: true})

	_, err := rf.Write([]byte("compress me\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Rotate())

	backups, err := rf.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0], ".log.gz"), backups[0])
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	rf := newRotatingFile(t, RotationConfig{Filename: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, rf.Close())

	_, err := rf.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
