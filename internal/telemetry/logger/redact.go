package logger

import (
	"log/slog"
	"strings"
)

// Value prefixes of memsnap credentials. Matching values are partially
// masked so operators can still tell them apart.
var sensitiveValuePrefixes = []string{
	"mst_", // artifact service API token
	"msk_", // artifact encryption key
}

// Key fragments that mark an attribute as sensitive. Plain "key" is not in
// the list since artifact keys are logged on every store operation.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"api_token",
	"encryption_key",
	"credential",
	"authorization",
	"bearer",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if masked, ok := maskPrefixed(v); ok {
			return slog.String(a.Key, masked)
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func maskPrefixed(v string) (string, bool) {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(v, prefix) {
			return maskValue(v, prefix), true
		}
	}
	return v, false
}

// maskValue keeps the prefix plus the first and last three characters.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks a credential-prefixed value and returns anything else
// unchanged.
func RedactString(value string) string {
	masked, _ := maskPrefixed(value)
	return masked
}

// IsSensitiveKey reports whether an attribute key names a credential.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
