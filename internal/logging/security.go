// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import "strings"

// The functions below mask potentially sensitive values before they reach
// a log line or an error's structured context: document keys, bearer
// tokens, and anything else a caller attaches to a zerolog event whose key
// name looks sensitive. None of this package retains what it redacts —
// every function is a pure string transform.

// SanitizeToken masks an opaque identifier, showing only its first and
// last 4 characters. Used for bearer tokens and, via
// kv.Request.ServiceContext, for document keys: short enough for an
// operator to recognize by prefix/suffix in a log stream without the full
// value ever being written out.
// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9" -> "eyJh...VCJ9"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeError removes potentially sensitive information from error
// messages before they are logged.
func SanitizeError(err string) string {
	sensitivePatterns := []string{
		"password",
		"secret",
		"token",
		"key",
		"bearer",
		"authorization",
		"cookie",
	}

	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerErr, pattern) {
			return "authentication error"
		}
	}

	return truncateString(err, 200)
}

// SanitizeValue sanitizes a value based on its key name, for callers that
// build up a structured field map (e.g. ServiceContext) from heterogeneous
// key/value pairs and want a single redaction pass applied uniformly.
func SanitizeValue(key, value string) string {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := map[string]bool{
		"access_token":  true,
		"refresh_token": true,
		"id_token":      true,
		"token":         true,
		"password":      true,
		"secret":        true,
		"api_key":       true,
		"apikey":        true,
		"authorization": true,
		"bearer":        true,
		"cookie":        true,
		"document_id":   true,
		"document_key":  true,
	}

	if sensitiveKeys[lowerKey] {
		return SanitizeToken(value)
	}

	return value
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
