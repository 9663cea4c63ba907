package fuse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// MountManager manages FUSE mount operations
type MountManager struct {
	fsys   *filesystem.FileSystem
	config MountConfig
	logger *zap.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint string `yaml:"mount_point"`

	// AllowNonEmpty permits mounting over a directory that has entries.
	AllowNonEmpty bool `yaml:"allow_non_empty"`
	AllowOther    bool `yaml:"allow_other"`

	Debug   bool          `yaml:"debug"`
	FSName  string        `yaml:"fsname"`
	Subtype string        `yaml:"subtype"`
	Timeout time.Duration `yaml:"timeout"`
	MaxRead int           `yaml:"max_read"`
}

// DefaultMountConfig returns the mount defaults for mountPoint.
func DefaultMountConfig(mountPoint string) MountConfig {
	return MountConfig{
		MountPoint: mountPoint,
		FSName:     "bucketfs",
		Subtype:    "bucketfs",
		Timeout:    DefaultTimeout,
		MaxRead:    128 * 1024,
	}
}

// NewMountManager creates a new mount manager
func NewMountManager(fsys *filesystem.FileSystem, config MountConfig, logger *zap.Logger) *MountManager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &MountManager{
		fsys:   fsys,
		config: config,
		logger: utils.OrNop(logger).With(zap.String("component", "mount")),
	}
}

// Mount mounts the filesystem and serves it in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem is already mounted").
			WithContext("mount_point", m.config.MountPoint)
	}
	if err := ValidateMountPoint(m.config.MountPoint, m.config.AllowNonEmpty); err != nil {
		return err
	}

	root := NewRoot(m.fsys, m.config.Timeout)
	server, err := fs.Mount(m.config.MountPoint, root, m.buildFUSEOptions())
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed, "failed to mount filesystem").
			WithContext("mount_point", m.config.MountPoint).
			WithCause(err)
	}

	m.server = server
	m.mounted = true
	m.logger.Info("bucketfs mounted", zap.String("mount_point", m.config.MountPoint))

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped", zap.String("mount_point", m.config.MountPoint))
	}()

	return nil
}

// Unmount unmounts the filesystem
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem is not mounted")
	}

	m.logger.Info("unmounting filesystem", zap.String("mount_point", m.config.MountPoint))
	if err := server.Unmount(); err != nil {
		m.logger.Warn("normal unmount failed, trying force unmount", zap.Error(err))
		if forceErr := m.forceUnmount(); forceErr != nil {
			return errors.NewError(errors.ErrCodeMountFailed, "unmount failed").
				WithCause(err).
				WithDetail("force_error", forceErr.Error())
		}
	}

	m.mu.Lock()
	m.mounted = false
	m.server = nil
	m.mu.Unlock()

	m.fsys.Close()
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// MountPoint returns the configured mount point
func (m *MountManager) MountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the FUSE server exits.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// Stats returns filesystem statistics
func (m *MountManager) Stats() filesystem.StatsSnapshot {
	return m.fsys.Stats()
}

// ValidateMountPoint checks that path is an existing directory that nothing
// else is mounted on. Unless allowNonEmpty is set it must also be empty.
func ValidateMountPoint(path string, allowNonEmpty bool) error {
	invalid := func(msg string, cause error) error {
		return errors.NewError(errors.ErrCodeMountFailed, msg).
			WithContext("mount_point", path).
			WithCause(cause)
	}

	if path == "" {
		return invalid("mount point cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return invalid("mount point does not exist", err)
		}
		return invalid("cannot access mount point", err)
	}
	if !info.IsDir() {
		return invalid("mount point is not a directory", nil)
	}

	if !allowNonEmpty {
		entries, err := os.ReadDir(path)
		if err != nil {
			return invalid("cannot read mount point directory", err)
		}
		if len(entries) > 0 {
			return invalid("mount point is not empty", nil)
		}
	}

	if isMounted(path) {
		return invalid("mount point is already mounted", nil)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	timeout := m.config.Timeout
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:         m.config.Subtype,
			FsName:       m.config.FSName,
			Debug:        m.config.Debug,
			AllowOther:   m.config.AllowOther,
			MaxReadAhead: m.config.MaxRead,
			Options:      []string{"ro"},
		},
		EntryTimeout:   &timeout,
		AttrTimeout:    &timeout,
		RootStableAttr: &fs.StableAttr{Mode: fuse.S_IFDIR, Ino: namespace.RootID},
		UID:            uint32(os.Getuid()),
		GID:            uint32(os.Getgid()),
	}
	return opts
}

// isMounted scans /proc/mounts for path. Where that file does not exist the
// answer is always false.
func isMounted(path string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}

	target := filepath.Clean(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == target {
			return true
		}
	}
	return false
}

func (m *MountManager) forceUnmount() error {
	// Lazy unmount first, then forced.
	if err := syscall.Unmount(m.config.MountPoint, 2); err == nil {
		return nil
	}
	if err := syscall.Unmount(m.config.MountPoint, 1); err != nil {
		return fmt.Errorf("force unmount %s: %w", m.config.MountPoint, err)
	}
	return nil
}
