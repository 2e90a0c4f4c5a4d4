// Package logging assembles structured slog loggers and formatting helpers used
// across notescribe.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline stages can tag log
// lines with request IDs and stage names. The package also provides a no-op
// logger for tests and for callers that do not care about diagnostics.
//
// Loggers are diagnostic sinks only: no transcription result depends on
// whether, or where, anything is logged.
package logging
