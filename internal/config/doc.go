/*
Package config loads and validates the bucketfs configuration.

Values are layered, later sources winning:

	compiled-in defaults (NewDefault)
	YAML file           (LoadFromFile, --config)
	environment         (LoadFromEnv, BUCKETFS_*)
	command-line flags  (applied by cmd/bucketfs)

Validate is run once all layers are applied.

# Example

	global:
	  log_level: INFO
	  log_format: json
	  metrics_port: 9090
	store:
	  backend: s3
	  bucket: research-data
	  prefix: datasets/
	  region: us-west-2
	  request_timeout: 30s
	  retry:
	    max_attempts: 3
	    base_delay: 100ms
	    max_delay: 2s
	  circuit_breaker:
	    failure_threshold: 5
	    timeout: 30s
	cache:
	  metadata_entries: 1000
	  directory: /var/cache/bucketfs
	  max_size: 10GB
	mount:
	  mount_point: /mnt/research
	  entry_ttl: 1s
	  allow_other: false

Unknown keys in a file are rejected so that typos surface at startup.
*/
package config
