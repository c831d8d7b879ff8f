// Package config handles configuration loading for looma-sync.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${LOOMA_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	workers:
//	  poll_interval: "5s"
//	  lease_duration: "30s"
//	  session_stale_after: "2m"
//	  repeat_key_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/looma/sync.db"
//
// Media:
//
//	media:
//	  blob_dir: "/var/lib/looma/blobs"
//	  transcribe_command: ["whisper-cli", "--model", "base"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Server address, database path, and blob directory presence
//   - Duration format validity
//   - Lease duration exceeding the poll interval
//   - Logging level and format values
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/looma/sync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
