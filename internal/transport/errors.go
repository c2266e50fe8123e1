package transport

import (
	"strings"

	"github.com/forgehq/forge/internal/forgeerr"
)

// FailoverReason categorizes why a provider request failed, grounded on
// the teacher's providers.FailoverReason classification.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ClassifyStatusCode maps an HTTP status to a FailoverReason.
func ClassifyStatusCode(status int) FailoverReason {
	switch {
	case status == 402:
		return FailoverBilling
	case status == 429:
		return FailoverRateLimit
	case status == 401 || status == 403:
		return FailoverAuth
	case status == 400:
		return FailoverInvalidRequest
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// ClassifyError inspects an error's message for known shapes when no
// HTTP status is available (e.g. a transport-level dial failure).
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return FailoverRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "401"):
		return FailoverAuth
	default:
		return FailoverUnknown
	}
}

// MapHTTPError builds the typed error for a >=400 response per §4.1:
// a parseable provider envelope yields ProviderError, otherwise HTTPError.
func MapHTTPError(status int, providerName, code, message, rawSnippet string) error {
	if len(rawSnippet) > 2048 {
		rawSnippet = rawSnippet[:2048]
	}
	if code != "" || message != "" {
		return &forgeerr.ProviderError{
			Status:       status,
			Code:         code,
			Message:      message,
			ProviderName: providerName,
			RawSnippet:   rawSnippet,
		}
	}
	return &forgeerr.HTTPError{Status: status, Snippet: rawSnippet}
}
