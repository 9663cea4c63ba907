package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Store backends
const (
	BackendS3     = "s3"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global GlobalConfig `yaml:"global"`
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Mount  MountConfig  `yaml:"mount"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
	LogMaxSize  string `yaml:"log_max_size"`
	MetricsPort int    `yaml:"metrics_port"` // 0 disables the metrics endpoint
}

// StoreConfig selects and configures the object store.
type StoreConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	UseSSL          bool   `yaml:"use_ssl"`

	// SeedDir preloads the memory backend from a local directory.
	SeedDir string `yaml:"seed_dir"`

	RequestTimeout time.Duration        `yaml:"request_timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	MetadataEntries int    `yaml:"metadata_entries"`
	Directory       string `yaml:"directory"`
	MaxSize         string `yaml:"max_size"` // human readable, "0" for unbounded
}

// MountConfig represents mount settings
type MountConfig struct {
	MountPoint    string        `yaml:"mount_point"`
	AllowOther    bool          `yaml:"allow_other"`
	AllowNonEmpty bool          `yaml:"allow_non_empty"`
	EntryTTL      time.Duration `yaml:"entry_ttl"`
	FSName        string        `yaml:"fs_name"`
	UID           int           `yaml:"uid"` // -1 uses the mounting user
	GID           int           `yaml:"gid"`
	Debug         bool          `yaml:"debug"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "console",
			LogMaxSize:  "100MB",
			MetricsPort: 0,
		},
		Store: StoreConfig{
			Backend:        BackendS3,
			Region:         "us-east-1",
			UseSSL:         true,
			RequestTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Cache: CacheConfig{
			MetadataEntries: 1000,
			Directory:       "/tmp/bucketfs_cache",
			MaxSize:         "10GB",
		},
		Mount: MountConfig{
			EntryTTL: time.Second,
			FSName:   "bucketfs",
			UID:      -1,
			GID:      -1,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return invalid("failed to read config file").WithContext("file", filename).WithCause(err)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return invalid("failed to parse config file").WithContext("file", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration from BUCKETFS_* environment variables.
// Malformed numbers and durations are reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	str := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	var firstErr error
	note := func(name string, err error) {
		if err != nil && firstErr == nil {
			firstErr = invalid("bad environment value").WithContext("variable", name).WithCause(err)
		}
	}
	num := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			note(name, err)
			if err == nil {
				*dst = n
			}
		}
	}
	dur := func(name string, dst *time.Duration) {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			note(name, err)
			if err == nil {
				*dst = d
			}
		}
	}
	flag := func(name string, dst *bool) {
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			note(name, err)
			if err == nil {
				*dst = b
			}
		}
	}

	// Global settings
	str("BUCKETFS_LOG_LEVEL", &c.Global.LogLevel)
	str("BUCKETFS_LOG_FORMAT", &c.Global.LogFormat)
	str("BUCKETFS_LOG_FILE", &c.Global.LogFile)
	num("BUCKETFS_METRICS_PORT", &c.Global.MetricsPort)

	// Store settings
	str("BUCKETFS_BACKEND", &c.Store.Backend)
	str("BUCKETFS_BUCKET", &c.Store.Bucket)
	str("BUCKETFS_PREFIX", &c.Store.Prefix)
	str("BUCKETFS_REGION", &c.Store.Region)
	str("BUCKETFS_ENDPOINT", &c.Store.Endpoint)
	str("BUCKETFS_PROFILE", &c.Store.Profile)
	str("BUCKETFS_ACCESS_KEY_ID", &c.Store.AccessKeyID)
	str("BUCKETFS_SECRET_ACCESS_KEY", &c.Store.SecretAccessKey)
	flag("BUCKETFS_FORCE_PATH_STYLE", &c.Store.ForcePathStyle)
	str("BUCKETFS_SEED_DIR", &c.Store.SeedDir)
	dur("BUCKETFS_REQUEST_TIMEOUT", &c.Store.RequestTimeout)
	num("BUCKETFS_RETRY_MAX_ATTEMPTS", &c.Store.Retry.MaxAttempts)

	// Cache settings
	num("BUCKETFS_METADATA_ENTRIES", &c.Cache.MetadataEntries)
	str("BUCKETFS_CACHE_DIR", &c.Cache.Directory)
	str("BUCKETFS_CACHE_MAX_SIZE", &c.Cache.MaxSize)

	// Mount settings
	str("BUCKETFS_MOUNT_POINT", &c.Mount.MountPoint)
	flag("BUCKETFS_ALLOW_OTHER", &c.Mount.AllowOther)
	dur("BUCKETFS_ENTRY_TTL", &c.Mount.EntryTTL)

	return firstErr
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid(fmt.Sprintf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel))
	}
	switch c.Global.LogFormat {
	case "", "json", "console":
	default:
		return invalid(fmt.Sprintf("invalid log_format: %s", c.Global.LogFormat))
	}
	if _, err := c.LogMaxBytes(); err != nil {
		return err
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return invalid(fmt.Sprintf("invalid metrics_port: %d", c.Global.MetricsPort))
	}

	switch c.Store.Backend {
	case BackendS3, BackendMinIO:
		if c.Store.Bucket == "" {
			return invalid("store.bucket is required")
		}
	case BackendMemory:
	default:
		return invalid(fmt.Sprintf("invalid store.backend: %s (must be one of: s3, minio, memory)", c.Store.Backend))
	}
	if c.Store.Backend == BackendMinIO && c.Store.Endpoint == "" {
		return invalid("store.endpoint is required for the minio backend")
	}
	if c.Store.Retry.MaxAttempts <= 0 {
		return invalid("store.retry.max_attempts must be greater than 0")
	}
	if c.Store.RequestTimeout < 0 {
		return invalid("store.request_timeout must not be negative")
	}

	if c.Cache.MetadataEntries <= 0 {
		return invalid("cache.metadata_entries must be greater than 0")
	}
	if c.Cache.Directory == "" {
		return invalid("cache.directory is required")
	}
	if _, err := c.ContentMaxBytes(); err != nil {
		return err
	}

	if c.Mount.EntryTTL < 0 {
		return invalid("mount.entry_ttl must not be negative")
	}
	return nil
}

// ContentMaxBytes parses Cache.MaxSize.
func (c *Configuration) ContentMaxBytes() (int64, error) {
	if strings.TrimSpace(c.Cache.MaxSize) == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(c.Cache.MaxSize)
	if err != nil {
		return 0, invalid(fmt.Sprintf("invalid cache.max_size: %s", c.Cache.MaxSize)).WithCause(err)
	}
	return n, nil
}

// LogMaxBytes parses Global.LogMaxSize.
func (c *Configuration) LogMaxBytes() (int64, error) {
	if strings.TrimSpace(c.Global.LogMaxSize) == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(c.Global.LogMaxSize)
	if err != nil {
		return 0, invalid(fmt.Sprintf("invalid log_max_size: %s", c.Global.LogMaxSize)).WithCause(err)
	}
	return n, nil
}

func invalid(msg string) *errors.BucketFSError {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("config")
}
