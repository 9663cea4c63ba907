package minio

import (
	"github.com/minio/minio-go/v7"

	"github.com/objectfs/bucketfs/pkg/errors"
)

// Config holds the connection settings for an S3-compatible endpoint.
type Config struct {
	// Endpoint is host:port without a scheme, e.g. "localhost:9000".
	Endpoint string `yaml:"endpoint"`

	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`

	// Client, when set, is used as is and the connection fields are ignored.
	Client *minio.Client `yaml:"-"`
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Bucket == "" {
		return invalid("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return invalid("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return invalid("access and secret keys are required when client is not provided")
	}
	return nil
}

func invalid(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("minio")
}
