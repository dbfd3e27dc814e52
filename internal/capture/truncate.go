package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// maxLoggedPayload bounds how much of a rejected report payload is logged.
const maxLoggedPayload = 256

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

func truncateStringBytes(in string, maxBytes int) (string, bool, int, string) {
	out, truncated, size, sum := truncateBytes([]byte(in), maxBytes)
	return string(out), truncated, size, sum
}

// payloadAttrs describes a report payload for a log line. Long payloads are
// cut and identified by their sha256.
func payloadAttrs(payload string) []any {
	preview, truncated, size, sum := truncateStringBytes(payload, maxLoggedPayload)
	attrs := []any{slog.String("payload", preview), slog.Int("payload_bytes", size)}
	if truncated {
		attrs = append(attrs, slog.String("payload_sha256", sum))
	}
	return attrs
}
