package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces field values that are not safe to log, such as
// party contact details or feed endpoints carrying credentials.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField.
var plainKeys = map[string]bool{
	"component":  true,
	"action":     true,
	"trade_id":   true,
	"offer_id":   true,
	"channel":    true,
	"sequence":   true,
	"method":     true,
	"request_id": true,
	"reason":     true,
	"error":      true,
}

// MaskField returns key=value for plain keys and key=[REDACTED] otherwise.
// Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
