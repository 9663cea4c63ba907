/*
Package adapter assembles one bucketfs mount session.

An Adapter owns the object store client, the resilience wrapper in front of
it, both cache tiers and the filesystem handler set, and optionally the FUSE
mount that serves them:

	                  kernel VFS / FUSE
	                         |
	                  fuse.MountManager
	                         |
	               filesystem.FileSystem
	              /          |           \
	  namespace.Table  cache.Metadata  cache.Content
	                         |
	                  storage.Store (timeout, retry, breaker)
	                         |
	            s3.Backend | minio.Store | memory.Store

# Lifecycle

New validates the configuration and builds every component except the
mount. Start probes the store and mounts at Mount.MountPoint; Stop unmounts;
Close releases open handles and the cache directory lock.

	a, err := adapter.New(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop(context.Background())

The command line uses New without Start for ls, stat and cat.

# Storage URIs

ParseStorageURI accepts s3://bucket/prefix, minio://bucket/prefix and
memory:///prefix, and StorageLocation.Apply copies the result into a
Configuration.

# Cache Directory Sharing

The content directory is locked for the life of an Adapter. When another
process holds it, the Adapter falls back to a scratch directory that Close
removes, so read-only commands work next to a live mount.
*/
package adapter
