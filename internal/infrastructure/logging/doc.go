// Package logging provides structured logging for the bus client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across transports and the connection layer.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (trace, debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # trace, debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0").With("instance", cfg.Instance)
//	logger.Info("transport started", "type", cfg.Messaging.Type)
//
// Never log broker passwords.
package logging
