package obslog

import "strings"

const redacted = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-api-key":     true,
	"api-key":       true,
}

// SanitizeHeaders returns a copy of an HTTP header map with sensitive
// header values replaced, grounded on the original MCP server's
// request_logging.py (sanitize() over request.headers before every access
// log line).
func SanitizeHeaders(headers map[string][]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		joined := strings.Join(values, ", ")
		if sensitiveHeaders[strings.ToLower(key)] {
			out[key] = redacted
		} else {
			out[key] = joined
		}
	}
	return out
}
