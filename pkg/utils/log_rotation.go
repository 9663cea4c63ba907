package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string

	// MaxBytes rotates the file before a write would take it past this size.
	// Zero disables rotation.
	MaxBytes int64

	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFile is a zapcore.WriteSyncer over a size-rotated log file.
type RotatingFile struct {
	mu sync.Mutex

	config RotationConfig
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewRotatingFile opens (or creates) config.Filename for appending.
func NewRotatingFile(config RotationConfig) (*RotatingFile, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	rf := &RotatingFile{config: config, now: time.Now}
	if err := rf.openFile(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	// A single oversized record still goes to a fresh file.
	if rf.config.MaxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.config.MaxBytes {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Sync flushes the log file
func (rf *RotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file != nil {
		return rf.file.Sync()
	}
	return nil
}

// Close closes the log file
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file != nil {
		err := rf.file.Close()
		rf.file = nil
		return err
	}
	return nil
}

// Rotate moves the current file aside and starts a new one.
func (rf *RotatingFile) Rotate() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.rotate()
}

// Backups returns the rotated files, oldest first.
func (rf *RotatingFile) Backups() ([]string, error) {
	dir := filepath.Dir(rf.config.Filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix, ext := rf.nameParts()
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz") {
			names = append(names, filepath.Join(dir, name))
		}
	}
	// Timestamps sort lexically.
	sort.Strings(names)
	return names, nil
}

func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		rf.file = nil
	}

	backup := rf.backupFilename()
	if err := os.Rename(rf.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if rf.config.Compress {
		if err := compressFile(backup); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to compress log file %s: %v\n", backup, err)
		}
	}
	if err := rf.pruneBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune old log files: %v\n", err)
	}

	return rf.openFile()
}

func (rf *RotatingFile) openFile() error {
	if err := os.MkdirAll(filepath.Dir(rf.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(rf.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rf.file = file
	rf.size = info.Size()
	return nil
}

func (rf *RotatingFile) nameParts() (prefix, ext string) {
	base := filepath.Base(rf.config.Filename)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

func (rf *RotatingFile) backupFilename() string {
	prefix, ext := rf.nameParts()
	stamp := rf.now().UTC().Format("2006-01-02T15-04-05.000")
	name := filepath.Join(filepath.Dir(rf.config.Filename), prefix+"-"+stamp+ext)

	// Two rotations inside one millisecond must not overwrite each other.
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if _, err := os.Stat(name + ".gz"); os.IsNotExist(err) {
				return name
			}
		}
		name = filepath.Join(filepath.Dir(rf.config.Filename), fmt.Sprintf("%s-%s_%d%s", prefix, stamp, i, ext))
	}
}

func (rf *RotatingFile) pruneBackups() error {
	if rf.config.MaxBackups <= 0 {
		return nil
	}
	backups, err := rf.Backups()
	if err != nil {
		return err
	}
	for len(backups) > rf.config.MaxBackups {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}
