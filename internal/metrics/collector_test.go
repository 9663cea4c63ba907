package metrics

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/health"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Namespace: "bucketfs"}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if c.config.Port != 9090 {
			t.Errorf("default port = %d, want 9090", c.config.Port)
		}
		if c.config.Namespace != "bucketfs" {
			t.Errorf("default namespace = %q, want bucketfs", c.config.Namespace)
		}
		if c.Registry() == nil {
			t.Error("enabled collector has no registry")
		}
	})

	t.Run("disabled collector records nothing", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if c.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}
		c.RecordOperation("read", time.Millisecond, 10, true)
		c.RecordCacheHit("metadata", 0)
		c.RecordRemoteCall("fetch", time.Millisecond, nil)
		c.RecordError("read", errors.ErrRemoteUnavailable)
		c.UpdateGauges(Gauges{Identities: 3})
		if len(c.GetOperations()) != 0 {
			t.Error("disabled collector tracked operations")
		}
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector error = %v", err)
		}
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordOperation("read", 10*time.Millisecond, 4096, true)
	c.RecordOperation("read", 30*time.Millisecond, 0, false)
	c.RecordOperation("lookup", time.Millisecond, 0, true)

	ops := c.GetOperations()
	read := ops["read"]
	if read.Count != 2 || read.Errors != 1 || read.TotalSize != 4096 {
		t.Errorf("read metrics = %+v", read)
	}
	if read.AvgDuration != 20*time.Millisecond {
		t.Errorf("read avg = %v, want 20ms", read.AvgDuration)
	}

	if got := testutil.ToFloat64(c.operationCounter.WithLabelValues("read", "success")); got != 1 {
		t.Errorf("read success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.operationCounter.WithLabelValues("read", "error")); got != 1 {
		t.Errorf("read error counter = %v, want 1", got)
	}

	c.ResetMetrics()
	if len(c.GetOperations()) != 0 {
		t.Error("ResetMetrics() left operations behind")
	}
}

func TestRecordCacheAndRemote(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordCacheHit("content", 10)
	c.RecordCacheHit("content", 10)
	c.RecordCacheMiss("content", 0)
	c.RecordCacheMiss("metadata", 0)

	if got := testutil.ToFloat64(c.cacheCounter.WithLabelValues("content", "hit")); got != 2 {
		t.Errorf("content hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.cacheCounter.WithLabelValues("metadata", "miss")); got != 1 {
		t.Errorf("metadata misses = %v, want 1", got)
	}

	c.RecordRemoteCall("fetch", time.Millisecond, nil)
	c.RecordRemoteCall("fetch", time.Millisecond, errors.NewRemoteNotFound("fetch", "k", nil))
	c.RecordRemoteCall("list", time.Millisecond, errors.NewRemoteTimeout("list", "", nil))
	c.RecordRemoteCall("list", time.Millisecond, stderrors.New("boom"))

	cases := map[[2]string]float64{
		{"fetch", "ok"}:         1,
		{"fetch", "not_found"}:  1,
		{"list", "timeout"}:     1,
		{"list", "unavailable"}: 1,
	}
	for labels, want := range cases {
		if got := testutil.ToFloat64(c.remoteCounter.WithLabelValues(labels[0], labels[1])); got != want {
			t.Errorf("remote_calls_total%v = %v, want %v", labels, got, want)
		}
	}
}

func TestRecordError(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.RecordError("read", errors.NewRemoteUnavailable("fetch", "k", nil))
	c.RecordError("lookup", stderrors.New("plain"))
	c.RecordError("lookup", nil)

	if got := testutil.ToFloat64(c.errorCounter.WithLabelValues("read", "REMOTE_UNAVAILABLE")); got != 1 {
		t.Errorf("read errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.errorCounter.WithLabelValues("lookup", "INTERNAL_ERROR")); got != 1 {
		t.Errorf("lookup errors = %v, want 1", got)
	}
}

func TestGaugeSource(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)

	c.SetGaugeSource(func() Gauges {
		return Gauges{Identities: 5, OpenHandles: 2, ContentBytes: 1 << 20}
	})
	c.sampleGauges()

	if got := testutil.ToFloat64(c.gauges.WithLabelValues("identities")); got != 5 {
		t.Errorf("identities = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.gauges.WithLabelValues("content_bytes")); got != 1<<20 {
		t.Errorf("content_bytes = %v, want %d", got, 1<<20)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	c.RecordOperation("getattr", time.Millisecond, 0, true)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	body := get(t, srv.URL+"/metrics")
	if !strings.Contains(body, `bucketfs_operations_total{operation="getattr",status="success"} 1`) {
		t.Errorf("metrics output missing operation counter:\n%s", body)
	}

	if body := get(t, srv.URL+"/health"); !strings.Contains(body, "healthy") {
		t.Errorf("/health = %q", body)
	}
	if body := get(t, srv.URL+"/debug/operations"); !strings.Contains(body, "getattr") {
		t.Errorf("/debug/operations = %q", body)
	}
}

func TestHealthEndpointReportsTracker(t *testing.T) {
	t.Parallel()
	c := newTestCollector(t)
	tracker := health.NewTracker(health.TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2})
	tracker.RegisterComponent("s3")
	c.SetHealthTracker(tracker)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	tracker.RecordError("s3", stderrors.New("connection refused"))
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("degraded status code = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"degraded"`) || !strings.Contains(string(body), "connection refused") {
		t.Errorf("/health = %s", body)
	}

	tracker.RecordError("s3", stderrors.New("connection refused"))
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unavailable status code = %d, want 503", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 0, Namespace: "bucketfs", UpdateInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}

	if body := get(t, "http://"+c.Addr()+"/health"); !strings.Contains(body, "healthy") {
		t.Errorf("/health = %q", body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(data)
}
