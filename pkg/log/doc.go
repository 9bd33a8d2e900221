// Package log provides the structured logging facade used across oplog.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records are routed through a slog
// handler that formats them with a Formatter and writes them to one or more
// Outputs, so the rest of the codebase never depends on a concrete backend.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("processor"), log.Str("session", id))
//	l.Info("batch dispatched", log.Uint64("version", v))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, text or JSON
// format, optional rotating log file).
//
// # Interop
//
// Pebble and other libraries log through the standard library logger. Use
// RedirectStdLog to send that output through a Logger, or ToStdLogger to hand
// a *log.Logger to code that wants one.
package log
