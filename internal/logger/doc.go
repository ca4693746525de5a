// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder writing to stderr,
//   - an optional rotating log file (lumberjack) next to the console output,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and convenience functions (Infof, WarnKV, ErrorKV, ...).
//
// Every stage of the installer receives a context and logs through it, so the
// run id and stage names follow each entry.
package logger
