package storage

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketfs/internal/circuit"
	"github.com/objectfs/bucketfs/internal/storage/memory"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/health"
	"github.com/objectfs/bucketfs/pkg/retry"
	"github.com/objectfs/bucketfs/pkg/types"
)

type recordingMetrics struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{calls: map[string]int{}, fails: map[string]int{}}
}

func (m *recordingMetrics) RecordOperation(string, time.Duration, int64, bool) {}
func (m *recordingMetrics) RecordCacheHit(string, int64)                       {}
func (m *recordingMetrics) RecordCacheMiss(string, int64)                      {}
func (m *recordingMetrics) RecordError(string, error)                          {}

func (m *recordingMetrics) RecordRemoteCall(op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err != nil {
		m.fails[op]++
	}
}

func fastOptions() Options {
	return Options{
		Name:    "test",
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Circuit: circuit.Config{FailureThreshold: 5, Timeout: time.Hour},
	}
}

// flaky fails the first n calls with a raw transport error.
type flaky struct {
	*memory.Store
	mu    sync.Mutex
	n     int
	calls int
}

func (f *flaky) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.n
	f.mu.Unlock()
	if fail {
		return nil, stderrors.New("connection reset by peer")
	}
	return f.Store.Fetch(ctx, key)
}

func TestStorePassesThrough(t *testing.T) {
	mem := memory.New()
	mem.PutString("data/a.txt", "alpha")
	metrics := newRecordingMetrics()
	opts := fastOptions()
	opts.Metrics = metrics
	s := Wrap(mem, opts)
	ctx := context.Background()

	listing, err := s.List(ctx, "data/", "/")
	require.NoError(t, err)
	require.Len(t, listing.Objects, 1)
	assert.Equal(t, "data/a.txt", listing.Objects[0].Key)

	body, err := s.Fetch(ctx, "data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(body))

	info, err := s.Head(ctx, "data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	assert.NoError(t, s.HealthCheck(ctx))
	assert.Equal(t, 1, metrics.calls["list"])
	assert.Equal(t, 1, metrics.calls["fetch"])
	assert.Equal(t, 0, metrics.fails["fetch"])
	assert.Same(t, mem, s.Unwrap())
}

func TestStoreRetriesTransientFailures(t *testing.T) {
	backend := &flaky{Store: memory.New(), n: 2}
	backend.PutString("k", "v")

	var retries []int
	opts := fastOptions()
	opts.Retry.OnRetry = func(attempt int, err error) {
		retries = append(retries, attempt)
		assert.ErrorIs(t, err, errors.ErrRemoteUnavailable)
	}
	s := Wrap(backend, opts)

	body, err := s.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(body))
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestStoreDoesNotRetryMissingKeys(t *testing.T) {
	mem := memory.New()
	s := Wrap(mem, fastOptions())

	_, err := s.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrRemoteNotFound)
	assert.Equal(t, int64(1), mem.FetchCalls())
	assert.Equal(t, circuit.StateClosed, s.Breaker().State())
}

func TestStoreClassifiesRawErrors(t *testing.T) {
	mem := memory.New()
	mem.FailWith(stderrors.New("dial tcp: connection refused"))
	opts := fastOptions()
	opts.Retry.MaxAttempts = 1
	s := Wrap(mem, opts)

	_, err := s.List(context.Background(), "", "/")
	assert.ErrorIs(t, err, errors.ErrRemoteUnavailable)
	assert.True(t, errors.IsRemote(err))
}

func TestStoreTimeoutBecomesRemoteTimeout(t *testing.T) {
	mem := memory.New()
	mem.PutString("slow", "body")
	mem.BeforeFetch = func(string) { time.Sleep(30 * time.Millisecond) }
	opts := fastOptions()
	opts.Retry.MaxAttempts = 1
	opts.RequestTimeout = 5 * time.Millisecond
	s := Wrap(mem, opts)

	_, err := s.Fetch(context.Background(), "slow")
	assert.ErrorIs(t, err, errors.ErrRemoteTimeout)
}

func TestStoreBreakerOpensAndShortCircuits(t *testing.T) {
	mem := memory.New()
	mem.FailWith(errors.NewRemoteUnavailable("list", "", stderrors.New("503 slow down")))

	var opened bool
	opts := fastOptions()
	opts.Retry.MaxAttempts = 1
	opts.Circuit.FailureThreshold = 2
	opts.Circuit.OnStateChange = func(_ string, _, to circuit.State) {
		if to == circuit.StateOpen {
			opened = true
		}
	}
	s := Wrap(mem, opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.List(ctx, "", "/")
		require.Error(t, err)
	}
	assert.True(t, opened)
	assert.Equal(t, circuit.StateOpen, s.Breaker().State())

	calls := mem.ListCalls()
	_, err := s.List(ctx, "", "/")
	assert.ErrorIs(t, err, circuit.ErrOpenState)
	assert.ErrorIs(t, err, errors.ErrRemoteUnavailable)
	assert.Equal(t, calls, mem.ListCalls(), "open breaker must not reach the backend")
}

type listOnly struct{}

func (listOnly) List(context.Context, string, string) (*types.Listing, error) {
	return &types.Listing{}, nil
}

func (listOnly) Fetch(context.Context, string) ([]byte, error) { return nil, nil }

func TestStoreOptionalCapabilities(t *testing.T) {
	s := Wrap(listOnly{}, fastOptions())

	_, err := s.Head(context.Background(), "k")
	assert.Error(t, err)
	assert.NoError(t, s.HealthCheck(context.Background()))
}

func TestStoreReportsHealth(t *testing.T) {
	mem := memory.New()
	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 4})
	opts := fastOptions()
	opts.Retry.MaxAttempts = 1
	opts.Circuit.FailureThreshold = 100
	opts.Health = tracker
	s := Wrap(mem, opts)
	ctx := context.Background()

	assert.Equal(t, health.StateHealthy, tracker.GetState("test"))

	_, err := s.Fetch(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrRemoteNotFound)
	assert.Equal(t, health.StateHealthy, tracker.GetState("test"), "missing keys are not outages")

	mem.FailWith(stderrors.New("connection refused"))
	for i := 0; i < 2; i++ {
		_, err := s.List(ctx, "", "/")
		require.Error(t, err)
	}
	assert.Equal(t, health.StateDegraded, tracker.GetState("test"))

	mem.FailWith(nil)
	_, err = s.List(ctx, "", "/")
	require.NoError(t, err)
	assert.Equal(t, health.StateHealthy, tracker.GetState("test"))
}
