// Package config handles configuration loading for sigil-gateway.
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
//	auth:
//	  jwt_secret: "${SIGIL_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	workers:
//	  - id: search
//	    launch_timeout: "30s"
//	    call_timeout: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/sigil/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${SIGIL_JWT_SECRET}"   # HS256 secret, min 32 bytes
//	  static_tokens:
//	    - hash: "$2a$10$..."              # bcrypt hash of the raw token
//	      subject: "svc:reporting"
//	      role: "readonly"
//	      permissions: ["read-data"]      # optional explicit override
//
// Workers (subprocess tool servers spawned at boot):
//
//	workers:
//	  - id: search
//	    command: "/usr/local/bin/search-server"
//	    args: ["--index", "/data/index"]
//	    work_dir: "/data"
//	    env:
//	      SEARCH_MODE: "full"
//	    env_passthrough: ["LANG"]
//	    prefix: "search"                  # tools exposed as search_<name>
//	    permissions: ["call-capability"]
//	    launch_timeout: "30s"
//	    call_timeout: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "json"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - server.http_addr and database.path presence
//   - JWT secret minimum length (32 bytes) when set
//   - Worker id uniqueness and command presence
//   - Permission and role names against the compiled-in sets
//   - Duration format validity
package config
