// Package logging assembles the structured slog loggers used by the
// enrichment pipeline and its commands.
//
// It owns the console and JSON handlers, routes output to stdout and the run
// log file, and exposes context-aware helpers so pipeline code automatically
// tags lines with the run identifier, batch number, provider job, and slug.
// A no-op logger is provided for tests and for wiring code that must not fail.
package logging
