// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CHRONICLE_HOST="0.0.0.0"
//	CHRONICLE_PORT="8080"
//	CHRONICLE_HEALTH_PORT="9090"
//	CHRONICLE_READ_TIMEOUT="15s"
//	CHRONICLE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	CHRONICLE_DB_DRIVER="postgres"  # postgres, sqlite3
//	CHRONICLE_DB_URL="postgres://localhost/app?sslmode=disable"
//	CHRONICLE_AUDIT_DB_URL="postgres://localhost/audit?sslmode=disable"  # defaults to CHRONICLE_DB_URL
//	CHRONICLE_DB_MAX_CONNS="20"
//	CHRONICLE_DB_TIMEOUT="10s"
//
// Audit settings:
//
//	CHRONICLE_AUDIT_MANUAL_ENTITIES="Customer,example.com/app/model.Order"
//	CHRONICLE_AUDIT_POLICY_FILE="/etc/chronicle/audit-policies.yaml"
//	CHRONICLE_AUDIT_TIMEOUT="2s"
//
// Retention settings:
//
//	CHRONICLE_RETENTION_DAYS="90"  # 0 disables purging
//	CHRONICLE_RETENTION_SCHEDULE="@daily"
//	CHRONICLE_ARCHIVE_ENABLED="true"
//	CHRONICLE_S3_BUCKET="audit-archive"
//	CHRONICLE_S3_ENDPOINT="http://minio:9000"
//
// Identity settings:
//
//	CHRONICLE_REDIS_URL="redis://localhost:6379"
//	CHRONICLE_OIDC_ISSUER="https://accounts.example.com"
//	CHRONICLE_OIDC_CLIENT_ID="chronicle"
//
// Observability settings:
//
//	CHRONICLE_LOG_LEVEL="info"  # debug, info, warn, error
//	CHRONICLE_METRICS_ENABLED="true"
//	CHRONICLE_OTEL_ENABLED="true"
//	CHRONICLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Policy File
//
// CHRONICLE_AUDIT_POLICY_FILE points at a YAML file of per-entity policies that
// LoadPolicyFile parses and PolicyFile.Apply registers on an audit.Registry:
//
//	entities:
//	  - name: Customer
//	    record_deletes: false
//
// # Related Packages
//
//   - pkg/storage: Uses database, Redis and S3 configuration
//   - pkg/audit: Uses audit and retention configuration
//   - pkg/observability: Uses observability configuration
package config
