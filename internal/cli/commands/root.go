// Package commands implements the bucketfs command line.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/config"
	"github.com/objectfs/bucketfs/pkg/utils"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the build info reported by --version and "version".
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

func versionString() string {
	buildDate := date
	if ts, err := strconv.ParseInt(date, 10, 64); err == nil {
		buildDate = time.Unix(ts, 0).UTC().Format("2006-01-02")
	}
	if strings.HasSuffix(version, "-dev") || version == "dev" {
		return fmt.Sprintf("%s (%s, commit: %s)", version, buildDate, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	logFile    string
	debug      bool

	backend     string
	bucket      string
	prefix      string
	region      string
	endpoint    string
	profile     string
	seedDir     string
	cacheDir    string
	cacheSize   string
	metaEntries int
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the bucketfs command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "bucketfs",
		Short: "Mount an object store bucket as a read-only filesystem",
		Long: `bucketfs presents the keys of an S3-compatible bucket as a read-only
directory tree. Key prefixes ending in "/" become directories, objects become
files, and file bodies are cached on local disk on first read.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("bucketfs version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format (console, json)")
	pf.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.BoolVar(&opts.debug, "debug", false, "Debug logging and FUSE request tracing")

	pf.StringVar(&opts.backend, "backend", "", "Object store backend (s3, minio, memory)")
	pf.StringVarP(&opts.bucket, "bucket", "b", "", "Bucket name")
	pf.StringVar(&opts.prefix, "prefix", "", "Key prefix presented as the filesystem root")
	pf.StringVar(&opts.region, "region", "", "Bucket region")
	pf.StringVar(&opts.endpoint, "endpoint", "", "Custom S3 endpoint (required for minio)")
	pf.StringVar(&opts.profile, "profile", "", "AWS shared config profile")
	pf.StringVar(&opts.seedDir, "seed-dir", "", "Local directory loaded into the memory backend")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "Content cache directory")
	pf.StringVar(&opts.cacheSize, "cache-size", "", "Content cache size limit, e.g. 10GB or 512MiB")
	pf.IntVar(&opts.metaEntries, "metadata-entries", 0, "Metadata cache capacity in entries")

	root.AddCommand(
		newMountCommand(opts),
		newLsCommand(opts),
		newStatCommand(opts),
		newCatCommand(opts),
		newCacheCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfig layers the configuration and validates the result.
func loadConfig(flags *pflag.FlagSet, opts *globalOptions) (*config.Configuration, error) {
	cfg, err := layerConfig(flags, opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// layerConfig applies defaults, the config file, BUCKETFS_* variables and
// changed flags, in that order.
func layerConfig(flags *pflag.FlagSet, opts *globalOptions) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.Global.LogLevel = opts.logLevel })
	set("log-format", func() { cfg.Global.LogFormat = opts.logFormat })
	set("log-file", func() { cfg.Global.LogFile = opts.logFile })
	set("backend", func() { cfg.Store.Backend = opts.backend })
	set("bucket", func() { cfg.Store.Bucket = opts.bucket })
	set("prefix", func() { cfg.Store.Prefix = opts.prefix })
	set("region", func() { cfg.Store.Region = opts.region })
	set("endpoint", func() { cfg.Store.Endpoint = opts.endpoint })
	set("profile", func() { cfg.Store.Profile = opts.profile })
	set("seed-dir", func() { cfg.Store.SeedDir = opts.seedDir })
	set("cache-dir", func() { cfg.Cache.Directory = opts.cacheDir })
	set("cache-size", func() { cfg.Cache.MaxSize = opts.cacheSize })
	set("metadata-entries", func() { cfg.Cache.MetadataEntries = opts.metaEntries })
	if opts.debug {
		cfg.Global.LogLevel = "DEBUG"
		cfg.Mount.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) (*zap.Logger, error) {
	maxSize, err := cfg.LogMaxBytes()
	if err != nil {
		return nil, err
	}
	logger, _, err := utils.NewLogger(utils.LogConfig{
		Level:      cfg.Global.LogLevel,
		Format:     cfg.Global.LogFormat,
		File:       cfg.Global.LogFile,
		MaxSize:    maxSize,
		MaxBackups: 5,
	})
	return logger, err
}
