/*
Package metrics exports bucketfs activity as Prometheus metrics.

Collector implements types.MetricsCollector, so the filesystem, both cache
tiers and the storage wrapper report into it directly. It keeps a private
registry and serves it over HTTP when Start is called:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Namespace: "bucketfs",
	}, logger)
	if err != nil {
		return err
	}
	collector.SetGaugeSource(func() metrics.Gauges { ... })
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

# Exported Metrics

Counters:
  - bucketfs_operations_total{operation,status}
  - bucketfs_cache_requests_total{tier,result}
  - bucketfs_remote_calls_total{operation,result}
  - bucketfs_errors_total{operation,code}

Histograms:
  - bucketfs_operation_duration_seconds{operation}
  - bucketfs_operation_size_bytes{operation}
  - bucketfs_remote_call_duration_seconds{operation}

Gauges:
  - bucketfs_state{name}: identities, open_handles, metadata_entries,
    content_files and content_bytes, sampled every UpdateInterval.

Error codes are the pkg/errors codes, so a spike in REMOTE_UNAVAILABLE is
visible separately from CORRUPTED_NAMESPACE.

# HTTP Endpoints

  - /metrics: Prometheus exposition
  - /health: static liveness probe
  - /debug/operations: plain-text per-operation totals
*/
package metrics
