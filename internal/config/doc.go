// Package config handles configuration loading for coven-paybot.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension), with environment variable expansion and per-field overrides.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PAYBOT_ADMIN_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// After the file is decoded, PAYBOT_* variables replace individual fields.
// The name is the upper-cased key path joined by underscores:
//
//	PAYBOT_SERVER_HTTP_ADDR=0.0.0.0:8080
//	PAYBOT_TRANSPORT_KIND=matrix
//	PAYBOT_TRANSPORT_MATRIX_ALLOWED_ROOMS=!a:example.org,!b:example.org
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	fiat:
//	  ttl: "5m"
//	bot:
//	  dedupe_ttl: "10m"
//	  save_timeout: "10s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"   # health, metrics, admin API
//	  grpc_addr: "127.0.0.1:50051"  # gRPC health; empty disables
//
//	storage:
//	  driver: "sqlite"              # sqlite, redis, memory
//	  sqlite_path: "./paybot.db"
//
//	transport:
//	  kind: "headless"              # headless, matrix
//	  headless:
//	    prefix: "paybot"
//	    redis:
//	      addr: "127.0.0.1:6379"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/paybot/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
