// Package retry provides retry logic with exponential backoff for bucketfs
// store calls.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/objectfs/bucketfs/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Jitter adds up to InitialDelay of randomness to each delay.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryIf decides which errors are worth another attempt. The default
	// retries errors flagged retryable, which are remote outages and timeouts.
	RetryIf func(err error) bool `yaml:"-" json:"-"`

	// OnRetry is called with the number of each failed, retryable attempt.
	OnRetry func(attempt int, err error) `yaml:"-" json:"-"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.RetryIf == nil {
		config.RetryIf = errors.IsRetryable
	}
	return &Retryer{config: config}
}

// Config returns the effective configuration.
func (r *Retryer) Config() Config {
	return r.config
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The last error is returned as is.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(func() error { return fn(ctx) }, r.options(ctx)...)
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, r *Retryer, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoWithData(func() (T, error) { return fn(ctx) }, r.options(ctx)...)
}

func (r *Retryer) options(ctx context.Context) []retry.Option {
	delayType := retry.BackOffDelay
	if r.config.Jitter {
		delayType = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}

	opts := []retry.Option{
		retry.Attempts(uint(r.config.MaxAttempts)),
		retry.Delay(r.config.InitialDelay),
		retry.MaxDelay(r.config.MaxDelay),
		retry.MaxJitter(r.config.InitialDelay),
		retry.DelayType(delayType),
		retry.RetryIf(r.config.RetryIf),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
	if r.config.OnRetry != nil {
		onRetry := r.config.OnRetry
		opts = append(opts, retry.OnRetry(func(n uint, err error) {
			onRetry(int(n)+1, err)
		}))
	}
	return opts
}
