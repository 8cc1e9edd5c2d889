// Package config handles configuration loading for coven-sentry.
//
// # Overview
//
// Configuration is loaded from TOML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_SENTRY_CONFIG environment variable
//  2. ./coven-sentry.toml (current directory)
//  3. ~/.config/coven-sentry/config.toml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[matrix]
//	password = "${COVEN_SENTRY_PASSWORD}"
//
// Syntax: ${VAR_NAME}. An unset variable expands to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	[timing]
//	poll_timeout = "30s"
//	error_backoff = "5s"
//	dedupe_window = "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Agent identity:
//
//	[agent]
//	name = "PC1"                       # scopes the command vocabulary
//	process_names = ["coven-sentry"]   # sibling process matching
//
// Matrix connection:
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "sentry-pc1"
//	password = "${COVEN_SENTRY_PASSWORD}"
//	room_id = "!ops:example.org"       # room ID, not an alias
//
// Liveness file:
//
//	[liveness]
//	path = "/tmp/coven-sentry/sentry.lock"
//	interval = "10s"
//
// Host actions:
//
//	[host]
//	artifact_path = "/home/user/.config/autostart/agent.desktop"
//	power_delay = "5s"
//
// Command journal:
//
//	[journal]
//	enabled = true
//	path = "~/.local/share/coven-sentry/journal.db"
//
// Loop cadence:
//
//	[timing]
//	poll_timeout = "30s"
//	poll_interval = "1s"
//	error_backoff = "5s"
//	epoch_sync_timeout = "5s"
//	epoch_settle = "1s"
//	terminate_grace = "2s"
//	dedupe_window = "10m"
//
// Logging:
//
//	[logging]
//	level = "info"   # debug, info, warn, error
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/coven-sentry/config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
