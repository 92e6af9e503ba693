package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// MaskValue returns RedactedValue for non-empty input.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskDSN strips credentials from a database DSN. URL-style DSNs keep their
// host and database; key/value DSNs have their password field masked.
// Anything else is returned unchanged, which covers sqlite file paths.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return RedactedValue
		}
		if parsed.User != nil {
			parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
		}
		return parsed.Redacted()
	}
	if !strings.Contains(trimmed, "password=") {
		return trimmed
	}
	fields := strings.Fields(trimmed)
	for i, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[i] = "password=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// Secret returns an attribute that never reveals the value itself, only
// whether it was configured.
func Secret(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}
