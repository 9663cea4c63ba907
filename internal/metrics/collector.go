package metrics

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/health"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Collector implements types.MetricsCollector over a private Prometheus
// registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	remoteCounter     *prometheus.CounterVec
	remoteDuration    *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	gauges            *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	gaugeSource func() Gauges
	health      *health.Tracker
	server      *http.Server
	listener    net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// DefaultConfig returns the metrics defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9090,
		Path:           "/metrics",
		Namespace:      "bucketfs",
		UpdateInterval: 15 * time.Second,
	}
}

// Gauges are point-in-time values sampled by the update loop.
type Gauges struct {
	Identities      int
	OpenHandles     int
	MetadataEntries int
	ContentFiles    int
	ContentBytes    int64
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector. A disabled collector accepts
// every call and records nothing.
func NewCollector(config *Config, logger *zap.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 15 * time.Second
	}

	collector := &Collector{
		config:     config,
		logger:     utils.OrNop(logger).With(zap.String("component", "metrics")),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return collector, nil
}

// Registry returns the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetGaugeSource installs the function sampled by the update loop.
func (c *Collector) SetGaugeSource(fn func() Gauges) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gaugeSource = fn
}

// SetHealthTracker makes /health report the tracker's components.
func (c *Collector) SetHealthTracker(t *health.Tracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = t
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves the metrics endpoint and samples gauges until ctx ends. It
// returns once the listener is bound.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port %d: %w", c.config.Port, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	go c.updateLoop(ctx)

	c.logger.Info("Metrics endpoint listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", c.config.Path))
	return nil
}

// Addr returns the bound address once Start has run.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records a filesystem operation.
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	c.operationCounter.WithLabelValues(operation, status(success)).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.WithLabelValues(operation).Observe(float64(size))
	}
}

// RecordCacheHit records a hit in the named cache tier.
func (c *Collector) RecordCacheHit(tier string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(tier, "hit").Inc()
}

// RecordCacheMiss records a miss in the named cache tier.
func (c *Collector) RecordCacheMiss(tier string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(tier, "miss").Inc()
}

// RecordRemoteCall records one object store call, retries included.
func (c *Collector) RecordRemoteCall(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.remoteCounter.WithLabelValues(operation, remoteResult(err)).Inc()
	c.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records a failed filesystem operation by error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
}

// UpdateGauges sets the point-in-time gauges.
func (c *Collector) UpdateGauges(g Gauges) {
	if !c.config.Enabled {
		return
	}
	c.gauges.WithLabelValues("identities").Set(float64(g.Identities))
	c.gauges.WithLabelValues("open_handles").Set(float64(g.OpenHandles))
	c.gauges.WithLabelValues("metadata_entries").Set(float64(g.MetadataEntries))
	c.gauges.WithLabelValues("content_files").Set(float64(g.ContentFiles))
	c.gauges.WithLabelValues("content_bytes").Set(float64(g.ContentBytes))
}

// GetOperations returns a copy of the per-operation totals.
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation totals.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of filesystem operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18), // 100us to ~13s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_size_bytes",
			Help:      "Bytes returned by filesystem operations",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
		},
		[]string{"operation"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	c.remoteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_calls_total",
			Help:      "Object store calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	c.remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of object store calls in seconds, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Failed filesystem operations by error code",
		},
		[]string{"operation", "code"},
	)

	c.gauges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "state",
			Help:      "Point-in-time filesystem state",
		},
		[]string{"name"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheCounter,
		c.remoteCounter,
		c.remoteDuration,
		c.errorCounter,
		c.gauges,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	c.sampleGauges()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleGauges()
		}
	}
}

func (c *Collector) sampleGauges() {
	c.mu.RLock()
	source := c.gaugeSource
	c.mu.RUnlock()
	if source != nil {
		c.UpdateGauges(source())
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func remoteResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.CodeOf(err) == errors.ErrCodeRemoteNotFound:
		return "not_found"
	case errors.CodeOf(err) == errors.ErrCodeRemoteTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

// HTTP handlers

type healthReport struct {
	Status     health.HealthState                `json:"status"`
	Service    string                            `json:"service"`
	Components map[string]health.ComponentHealth `json:"components,omitempty"`
}

// healthHandler answers 503 only when a component is unavailable; a degraded
// store still serves cached content.
func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()

	report := healthReport{Status: health.StateHealthy, Service: "bucketfs"}
	if tracker != nil {
		report.Status = tracker.GetOverallHealth()
		report.Components = tracker.GetAllComponents()
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StateUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		c.logger.Debug("Failed to write health report", zap.Error(err))
	}
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("bucketfs operations since %s\n\n", c.lastReset.Format(time.RFC3339))
	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-12s %10s %10s %14s %12s\n", "Operation", "Count", "Errors", "Avg Duration", "Bytes")
	for name, op := range c.operations {
		writef("%-12s %10d %10d %14v %12s\n",
			name, op.Count, op.Errors, op.AvgDuration, utils.FormatBytes(op.TotalSize))
	}
}
