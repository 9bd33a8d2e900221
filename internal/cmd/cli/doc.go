// Package cli provides the `oplog` command-line tool.
//
// The commands work directly on the session directories under the data
// directory; no server is involved. A session held by a live process is
// reported and skipped.
//
// Usage
//
//	oplog status
//
//	# Replay every unsynchronised session
//	oplog sync --all
//
//	# Replay selected sessions by ID or name
//	oplog sync org/project/RUN-7 0191e3c1a2b4c5d6e7f8091a2b3c4d5e
//
//	# Show offset, tail and pending operations as JSON lines
//	oplog inspect org/project/RUN-7 --limit 20
//
// Configuration
//
// Settings come from --config (JSON or YAML), then OPLOG_* environment
// variables, then flags. The backend is addressed with --backend-url or
// OPLOG_BACKEND_URL. With --metrics-addr the command serves Prometheus
// metrics on /metrics while it runs.
package cli
