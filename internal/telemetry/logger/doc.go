// Package logger provides structured logging for memsnap.
//
// It wraps log/slog behind a small Logger interface:
//
//   - logger.go: handler construction, level control and the process default
//   - context.go: request and instance scoped enrichment
//   - redact.go: masking of credentials and encryption keys
//
// Logs are JSON by default. Attributes whose key names a credential, or
// whose value carries a memsnap credential prefix, are masked before they
// reach the handler.
package logger
