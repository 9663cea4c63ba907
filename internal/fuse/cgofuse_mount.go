//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"sync"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// CgoFuseMountManager manages cgofuse-based mounts
type CgoFuseMountManager struct {
	fsys   *filesystem.FileSystem
	config MountConfig
	logger *zap.Logger

	mu      sync.Mutex
	host    *fuse.FileSystemHost
	done    chan struct{}
	mounted bool
}

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(fsys *filesystem.FileSystem, config MountConfig, logger *zap.Logger) *CgoFuseMountManager {
	return &CgoFuseMountManager{
		fsys:   fsys,
		config: config,
		logger: utils.OrNop(logger).With(zap.String("component", "mount")),
	}
}

// Mount mounts the filesystem. The host serves on its own goroutine until
// unmounted.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem is already mounted")
	}
	if err := ValidateMountPoint(m.config.MountPoint, m.config.AllowNonEmpty); err != nil {
		return err
	}

	host := fuse.NewFileSystemHost(NewCgoFuseFS(m.fsys))
	options := []string{
		"-o", "ro",
		"-o", fmt.Sprintf("fsname=%s", m.config.FSName),
		"-o", fmt.Sprintf("attr_timeout=%g", m.config.Timeout.Seconds()),
		"-o", fmt.Sprintf("entry_timeout=%g", m.config.Timeout.Seconds()),
	}
	if m.config.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	if m.config.Debug {
		options = append(options, "-d")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if !host.Mount(m.config.MountPoint, options) {
			m.logger.Error("cgofuse mount failed", zap.String("mount_point", m.config.MountPoint))
		}
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
	}()

	m.host = host
	m.done = done
	m.mounted = true
	m.logger.Info("bucketfs mounted", zap.String("mount_point", m.config.MountPoint))
	return nil
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	m.mu.Lock()
	host, mounted := m.host, m.mounted
	m.mu.Unlock()

	if !mounted || host == nil {
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem is not mounted")
	}
	if !host.Unmount() {
		return errors.NewError(errors.ErrCodeMountFailed, "unmount failed").
			WithContext("mount_point", m.config.MountPoint)
	}
	m.fsys.Close()
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the host returns from Mount.
func (m *CgoFuseMountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns filesystem statistics
func (m *CgoFuseMountManager) Stats() filesystem.StatsSnapshot {
	return m.fsys.Stats()
}
