// Package storage holds the object store backends and the resilience layer
// placed in front of them. Backends live in sub-packages (s3, minio, memory);
// Wrap adds per-call timeouts, retries and a circuit breaker to any of them.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/circuit"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/health"
	"github.com/objectfs/bucketfs/pkg/retry"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Options configures Wrap.
type Options struct {
	// Name identifies the store in logs and breaker state changes.
	Name string

	// RequestTimeout bounds a single attempt. Zero disables the bound.
	RequestTimeout time.Duration

	Retry   retry.Config
	Circuit circuit.Config

	Logger  *zap.Logger
	Metrics types.MetricsCollector

	// Health, when set, receives the outcome of every call under Name.
	Health *health.Tracker
}

// Store is a resilient ObjectStore. Retries run outside the breaker so that
// every attempt is counted and an open breaker stops the retry loop at once.
type Store struct {
	inner   types.ObjectStore
	name    string
	timeout time.Duration
	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	logger  *zap.Logger
	metrics types.MetricsCollector
	health  *health.Tracker
}

// Wrap returns inner behind the retry and circuit breaker policy.
func Wrap(inner types.ObjectStore, opts Options) *Store {
	if opts.Name == "" {
		opts.Name = "store"
	}
	logger := utils.OrNop(opts.Logger).With(zap.String("component", "store"), zap.String("store", opts.Name))

	s := &Store{
		inner:   inner,
		name:    opts.Name,
		timeout: opts.RequestTimeout,
		logger:  logger,
		metrics: opts.Metrics,
		health:  opts.Health,
	}
	if s.health != nil {
		s.health.RegisterComponent(opts.Name)
	}

	rc := opts.Retry
	userOnRetry := rc.OnRetry
	rc.OnRetry = func(attempt int, err error) {
		logger.Warn("Store call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if userOnRetry != nil {
			userOnRetry(attempt, err)
		}
	}
	s.retryer = retry.New(rc)

	cc := opts.Circuit
	userOnChange := cc.OnStateChange
	cc.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		if userOnChange != nil {
			userOnChange(name, from, to)
		}
	}
	s.breaker = circuit.NewCircuitBreaker(opts.Name, cc)

	return s
}

// Unwrap returns the backend behind the policy.
func (s *Store) Unwrap() types.ObjectStore {
	return s.inner
}

// Breaker exposes the circuit breaker for status reporting.
func (s *Store) Breaker() *circuit.CircuitBreaker {
	return s.breaker
}

// List implements types.ObjectStore.
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*types.Listing, error) {
	return call(ctx, s, "list", prefix, func(ctx context.Context) (*types.Listing, error) {
		return s.inner.List(ctx, prefix, delimiter)
	})
}

// Fetch implements types.ObjectStore.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	return call(ctx, s, "fetch", key, func(ctx context.Context) ([]byte, error) {
		return s.inner.Fetch(ctx, key)
	})
}

// Head implements types.ObjectHeader when the backend does.
func (s *Store) Head(ctx context.Context, key string) (*types.ObjectInfo, error) {
	header, ok := s.inner.(types.ObjectHeader)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeInternalError, "store does not support head").
			WithComponent("store").
			WithContext("store", s.name)
	}
	return call(ctx, s, "head", key, func(ctx context.Context) (*types.ObjectInfo, error) {
		return header.Head(ctx, key)
	})
}

// HealthCheck implements types.HealthChecker. It bypasses the breaker so a
// mount can report the real cause of an outage. The result is not recorded
// in Options.Health; probes are recorded by whoever schedules them.
func (s *Store) HealthCheck(ctx context.Context) error {
	checker, ok := s.inner.(types.HealthChecker)
	if !ok {
		return nil
	}
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := s.attemptContext(ctx)
		defer cancel()
		return classify(ctx, "health", "", checker.HealthCheck(ctx))
	})
	if err != nil {
		s.logger.Error("Store health check failed", zap.Error(err))
	}
	return err
}

// Name returns the name the store reports under.
func (s *Store) Name() string {
	return s.name
}

func (s *Store) recordHealth(err error) {
	if s.health != nil {
		s.health.RecordError(s.name, err)
	}
}

func call[T any](ctx context.Context, s *Store, op, key string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := retry.Value(ctx, s.retryer, func(ctx context.Context) (T, error) {
		return circuit.Run(ctx, s.breaker, func(ctx context.Context) (T, error) {
			ctx, cancel := s.attemptContext(ctx)
			defer cancel()
			v, err := fn(ctx)
			return v, classify(ctx, op, key, err)
		})
	})

	if s.metrics != nil {
		s.metrics.RecordRemoteCall(op, time.Since(start), err)
	}
	s.recordHealth(err)
	if err != nil && !stderrors.Is(err, errors.ErrRemoteNotFound) {
		s.logger.Warn("Store call failed",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Error(err))
	}
	return v, err
}

func (s *Store) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// classify makes sure every failure leaving the store carries a remote code.
func classify(ctx context.Context, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsRemote(err) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewRemoteTimeout(op, key, err)
	}
	return errors.NewRemoteUnavailable(op, key, err)
}
