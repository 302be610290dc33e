// Package logx is relaybot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - JSON output for log shippers, plus an optional JSON file sink
//   - Component loggers cheap to derive via With(String("comp", ...))
package logx
