// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger value and never touch zerolog directly.
// The Service owns the sink configuration (console, optional JSON file)
// and can hot-swap it at runtime via Apply(); loggers handed out earlier
// keep working against the new sinks.
package logx
