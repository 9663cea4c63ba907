//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/filesystem"
)

// PlatformFileSystem is the mount lifecycle shared by both FUSE bindings.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Wait()
	Stats() filesystem.StatsSnapshot
}

// CreatePlatformMountManager creates the go-fuse mount manager.
func CreatePlatformMountManager(fsys *filesystem.FileSystem, config MountConfig, logger *zap.Logger) PlatformFileSystem {
	return NewMountManager(fsys, config, logger)
}
