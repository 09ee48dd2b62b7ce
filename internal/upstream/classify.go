package upstream

import (
	"errors"
	"strings"
)

// The posting worker's outcome table keys off these predicates. They match
// both the structured API envelope and raw error text, since proxy-level
// failures surface as transport errors without an envelope.

func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Reason == "quotaExceeded" || apiErr.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	text := errText(err)
	return strings.Contains(text, "quotaExceeded") || strings.Contains(text, "dailyLimitExceeded")
}

func IsDuplicate(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Reason == "processingFailure" && strings.Contains(strings.ToLower(apiErr.Message), "duplicate") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(errText(err)), "duplicate")
}

func IsProxyError(err error) bool {
	text := strings.ToLower(errText(err))
	for _, marker := range []string{
		"proxy",
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"tls handshake",
	} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a retry can plausibly succeed without any
// state change: network blips and upstream 5xx.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	text := strings.ToLower(errText(err))
	return strings.Contains(text, "timeout") || strings.Contains(text, "temporary")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
