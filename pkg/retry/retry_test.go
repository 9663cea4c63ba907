package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/objectfs/bucketfs/pkg/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewRemoteUnavailable("list", "data/", stderrors.New("connection reset"))
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewRemoteNotFound("fetch", "missing", nil)
	})

	if !stderrors.Is(err, errors.ErrRemoteNotFound) {
		t.Errorf("Expected remote not found, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	retryer := New(fastConfig(4))

	var seen []int
	cfg := retryer.Config()
	cfg.OnRetry = func(attempt int, err error) { seen = append(seen, attempt) }
	retryer = New(cfg)

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewRemoteTimeout("fetch", "slow", nil)
	})

	if !stderrors.Is(err, errors.ErrRemoteTimeout) {
		t.Errorf("Expected the last error unwrapped, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
	if len(seen) < 3 || seen[0] != 1 {
		t.Errorf("Expected OnRetry after each failed attempt, got %v", seen)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	cfg := fastConfig(10)
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second
	retryer := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryer.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.NewRemoteUnavailable("list", "", nil)
	})

	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
	if attempts != 1 {
		t.Errorf("Expected cancellation to stop retries, got %d attempts", attempts)
	}
}

func TestValue(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	got, err := Value(context.Background(), retryer, func(context.Context) ([]byte, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.NewRemoteUnavailable("fetch", "k", nil)
		}
		return []byte("body"), nil
	})

	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if string(got) != "body" {
		t.Errorf("Expected body, got %q", got)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := New(Config{}).Config()
	def := DefaultConfig()

	if cfg.MaxAttempts != def.MaxAttempts {
		t.Errorf("Expected %d attempts, got %d", def.MaxAttempts, cfg.MaxAttempts)
	}
	if cfg.InitialDelay != def.InitialDelay || cfg.MaxDelay != def.MaxDelay {
		t.Errorf("Expected default delays, got %v/%v", cfg.InitialDelay, cfg.MaxDelay)
	}
	if cfg.RetryIf == nil {
		t.Error("Expected a default retry predicate")
	}
}
