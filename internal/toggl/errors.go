package toggl

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrorKind classifies a failed API call and decides retry eligibility.
type ErrorKind int

const (
	// KindRateLimited is HTTP 429. Retryable after backoff.
	KindRateLimited ErrorKind = iota
	// KindAuthFailed is HTTP 401/403. Never retried; response text is
	// scrubbed of credential-shaped substrings before surfacing.
	KindAuthFailed
	// KindPaymentRequired is HTTP 402. Never retried.
	KindPaymentRequired
	// KindEndpointRetired is HTTP 410. The caller must permanently stop
	// using the path.
	KindEndpointRetired
	// KindClientError covers the remaining 4xx statuses. Never retried.
	KindClientError
	// KindServerError is any 5xx. Retryable.
	KindServerError
	// KindTransportError is a network-level failure. Retryable.
	KindTransportError
	// KindDecodeError means the success body was malformed. Not retryable.
	KindDecodeError
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindPaymentRequired:
		return "payment_required"
	case KindEndpointRetired:
		return "endpoint_retired"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindTransportError:
		return "transport_error"
	case KindDecodeError:
		return "decode_error"
	}
	return "unknown"
}

// APIError is the typed failure returned by the transport. Message and Body
// are already scrubbed.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("toggl: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("toggl: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the caller may retry the request with backoff.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTransportError:
		return true
	}
	return false
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

var (
	hexTokenPattern = regexp.MustCompile(`[a-fA-F0-9]{32,64}`)
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// scrubCredentials masks API-token-shaped hex strings and email addresses so
// credential material never reaches logs or propagated errors.
func scrubCredentials(text string) string {
	if text == "" {
		return text
	}
	s := hexTokenPattern.ReplaceAllString(text, "[API_TOKEN]")
	return emailPattern.ReplaceAllString(s, "[EMAIL]")
}
