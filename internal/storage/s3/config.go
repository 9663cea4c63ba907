package s3

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// MaxAttempts is the SDK's own attempt budget. Retries with backoff are
	// applied by the storage layer, so one attempt is the default.
	MaxAttempts int `yaml:"max_attempts"`

	// PageSize caps the keys returned per ListObjectsV2 page. Zero uses the
	// service default of 1000.
	PageSize int32 `yaml:"page_size"`

	UseDualStack bool `yaml:"use_dual_stack"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:      "us-east-1",
		MaxAttempts: 1,
	}
}
