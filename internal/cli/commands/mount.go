package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/bucketfs/internal/adapter"
	"github.com/objectfs/bucketfs/internal/metrics"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
)

const shutdownTimeout = 10 * time.Second

type mountOptions struct {
	allowOther    bool
	allowNonEmpty bool
	metricsPort   int
	entryTTL      time.Duration
	uid           int
	gid           int
}

func newMountCommand(global *globalOptions) *cobra.Command {
	opts := &mountOptions{}

	cmd := &cobra.Command{
		Use:   "mount [storage-uri] <mount-point>",
		Short: "Mount a bucket read-only",
		Long: `Mounts the configured bucket at the given directory and serves it until
interrupted or unmounted externally. A storage URI (s3://bucket/prefix,
minio://bucket/prefix or memory:///prefix) overrides the configured store.

Examples:
  bucketfs mount s3://my-bucket/datasets /mnt/data --region eu-west-1
  bucketfs mount /mnt/data --bucket my-bucket
  bucketfs mount /mnt/data --backend minio --endpoint localhost:9000 --bucket media
  bucketfs mount /mnt/demo --backend memory --seed-dir ./testdata`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, args, global, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.allowOther, "allow-other", false, "Allow other users to access the mount")
	f.BoolVar(&opts.allowNonEmpty, "allow-non-empty", false, "Allow mounting over a non-empty directory")
	f.IntVar(&opts.metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")
	f.DurationVar(&opts.entryTTL, "entry-ttl", 0, "Kernel attribute and entry cache timeout")
	f.IntVar(&opts.uid, "uid", -1, "Owner uid reported for every entry (-1 for the mounting user)")
	f.IntVar(&opts.gid, "gid", -1, "Owner gid reported for every entry (-1 for the mounting user)")
	return cmd
}

func runMount(cmd *cobra.Command, args []string, global *globalOptions, opts *mountOptions) error {
	cfg, err := layerConfig(cmd.Flags(), global)
	if err != nil {
		return err
	}
	switch len(args) {
	case 2:
		loc, err := adapter.ParseStorageURI(args[0])
		if err != nil {
			return err
		}
		loc.Apply(cfg)
		cfg.Mount.MountPoint = args[1]
	case 1:
		cfg.Mount.MountPoint = args[0]
	}

	f := cmd.Flags()
	if f.Changed("allow-other") {
		cfg.Mount.AllowOther = opts.allowOther
	}
	if f.Changed("allow-non-empty") {
		cfg.Mount.AllowNonEmpty = opts.allowNonEmpty
	}
	if f.Changed("metrics-port") {
		cfg.Global.MetricsPort = opts.metricsPort
	}
	if f.Changed("entry-ttl") {
		cfg.Mount.EntryTTL = opts.entryTTL
	}
	if f.Changed("uid") {
		cfg.Mount.UID = opts.uid
	}
	if f.Changed("gid") {
		cfg.Mount.GID = opts.gid
	}
	if cfg.Mount.MountPoint == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "mount point is required")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	var recorder types.MetricsCollector
	if cfg.Global.MetricsPort > 0 {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:        true,
			Port:           cfg.Global.MetricsPort,
			Path:           "/metrics",
			Namespace:      "bucketfs",
			UpdateInterval: 15 * time.Second,
		}, logger)
		if err != nil {
			return err
		}
		recorder = collector
	}

	a, err := adapter.New(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close caches", zap.Error(err))
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// An external fusermount -u ends the server without a signal.
	g.Go(func() error {
		a.Wait()
		cancel()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return a.Stop(sctx)
	})

	g.Go(func() error {
		a.MonitorHealth(gctx)
		return nil
	})

	if collector != nil {
		collector.SetGaugeSource(a.Gauges)
		collector.SetHealthTracker(a.Health())
		if err := collector.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return collector.Stop(sctx)
		})
	}

	return g.Wait()
}
