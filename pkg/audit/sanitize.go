package audit

import "strings"

// RedactedValue replaces the value of any metadata key matching the
// sensitive-key denylist.
const RedactedValue = "[REDACTED]"

// sensitiveKeySubstrings is the denylist of substrings that mark a metadata
// key as sensitive. Matching is case-insensitive against the whole key.
var sensitiveKeySubstrings = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"apikey",
	"accesstoken",
	"refreshtoken",
	"privatekey",
	"creditcard",
	"ssn",
	"socialsecurity",
}

// Sanitize returns a copy of metadata with the values of sensitive keys
// replaced by RedactedValue. The scan is shallow: only top-level keys are
// inspected, nested maps pass through unchanged. Sanitize is pure and
// idempotent.
func Sanitize(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if isSensitiveKey(key) {
			out[key] = RedactedValue
		} else {
			out[key] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range sensitiveKeySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
