package webhookutils

import (
	"net/http"
	"strings"
)

// relevantHeaders are logged for every webhook delivery.
var relevantHeaders = []string{
	"Content-Type",
	"User-Agent",
	"X-Neynar-Signature",
	"X-Request-Id",
	"X-Forwarded-For",
}

// GetHeaderCaseInsensitive retrieves a header value using case-insensitive key matching.
// Flattened header maps lose Go's canonical casing, so exact string matches can fail.
func GetHeaderCaseInsensitive(headers map[string]string, key string) (string, bool) {
	keyLower := strings.ToLower(key)
	for k, v := range headers {
		if strings.ToLower(k) == keyLower {
			return v, true
		}
	}
	return "", false
}

// FlattenHeaders keeps the first value of every header.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// RelevantHeaders picks the headers worth logging from a delivery. Missing
// headers are left out.
func RelevantHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(relevantHeaders))
	for _, name := range relevantHeaders {
		if v, ok := GetHeaderCaseInsensitive(headers, name); ok && v != "" {
			out[strings.ToLower(name)] = v
		}
	}
	return out
}
