package config

import (
	"strings"

	"github.com/yndnr/memsnap-go/internal/telemetry/logger"
)

// Sanitize returns a copy of cfg safe to log: keys, passphrases and
// tokens are masked.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Storage.EncryptionKey = maskSecret(out.Storage.EncryptionKey)
	out.Storage.EncryptionPassphrase = maskSecret(out.Storage.EncryptionPassphrase)
	out.Snapshot.StoreToken = maskSecret(out.Snapshot.StoreToken)
	out.Server.HTTP.ReadTokens = maskAll(out.Server.HTTP.ReadTokens)
	out.Server.HTTP.WriteTokens = maskAll(out.Server.HTTP.WriteTokens)
	return &out
}

func maskAll(secrets []string) []string {
	if secrets == nil {
		return nil
	}
	out := make([]string, len(secrets))
	for i, s := range secrets {
		out[i] = maskSecret(s)
	}
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	if masked := logger.RedactString(s); masked != s {
		return masked
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
