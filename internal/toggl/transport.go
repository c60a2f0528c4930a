package toggl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the track API root.
	DefaultBaseURL = "https://api.track.toggl.com/api/v9"
	// DefaultReportsBaseURL hosts the reports API.
	DefaultReportsBaseURL = "https://api.track.toggl.com"

	// minRequestInterval keeps the client under the provider's 1 req/s cap
	// regardless of how bursty the callers are.
	minRequestInterval = time.Second

	maxAttempts    = 3
	maxRetryWindow = 300 * time.Second
)

// Transport is the single-flight request pipeline. All calls through one
// instance are spaced at least minRequestInterval apart; the gate blocks the
// caller rather than dropping the call. Outcomes map onto the APIError
// taxonomy, and retryable failures are retried with exponential backoff and
// jitter, bounded by maxAttempts and maxRetryWindow.
type Transport struct {
	baseURL        string
	reportsBaseURL string
	username       string
	password       string
	httpClient     *http.Client

	mu          sync.Mutex
	lastRequest time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewTransport builds a transport authenticated with an API token.
func NewTransport(apiToken string) (*Transport, error) {
	if len(apiToken) < 10 {
		return nil, errors.New("toggl: api token must be at least 10 characters")
	}
	return newTransport(apiToken, "api_token"), nil
}

// NewTransportWithBasicAuth builds a transport authenticated with
// email/password credentials.
func NewTransportWithBasicAuth(email, password string) (*Transport, error) {
	if !strings.Contains(email, "@") {
		return nil, errors.New("toggl: email must be a valid email address")
	}
	if len(password) < 6 {
		return nil, errors.New("toggl: password must be at least 6 characters")
	}
	return newTransport(email, password), nil
}

func newTransport(username, password string) *Transport {
	return &Transport{
		baseURL:        DefaultBaseURL,
		reportsBaseURL: DefaultReportsBaseURL,
		username:       username,
		password:       password,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Execute performs an authenticated request and returns the raw JSON body.
// Retryable failures (429, 5xx, network) are retried with exponential
// backoff; everything else propagates immediately.
func (t *Transport) Execute(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	deadline := t.now().Add(maxRetryWindow)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			if t.now().Add(delay).After(deadline) {
				break
			}
			t.sleep(delay)
		}
		raw, err := t.once(ctx, method, path, query, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("toggl: retryable failure on %s %s (attempt %d/%d): %v", method, path, attempt+1, maxAttempts, err)
	}
	return nil, lastErr
}

// backoffDelay is base-2 exponential with up to half the base added as jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	return base + time.Duration(rand.Int63n(int64(base/2)+1))
}

// throttle enforces the spacing invariant. The mutex is held through the
// sleep so concurrent callers are serialized in time.
func (t *Transport) throttle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastRequest.IsZero() {
		if wait := minRequestInterval - t.now().Sub(t.lastRequest); wait > 0 {
			t.sleep(wait)
		}
	}
	t.lastRequest = t.now()
}

func (t *Transport) once(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	base := t.baseURL
	if strings.HasPrefix(path, "/reports/") {
		base = t.reportsBaseURL
	}
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Kind: KindDecodeError, Message: scrubCredentials(err.Error())}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, &APIError{Kind: KindTransportError, Message: scrubCredentials(err.Error())}
	}
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toggl-mirror/1.0")

	t.throttle()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Kind: KindTransportError, Message: scrubCredentials(err.Error())}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransportError, Message: scrubCredentials(err.Error())}
	}

	if apiErr := classifyStatus(resp.StatusCode, path, respBody); apiErr != nil {
		return nil, apiErr
	}

	if len(respBody) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(respBody) {
		return nil, &APIError{
			Kind:       KindDecodeError,
			StatusCode: resp.StatusCode,
			Message:    "malformed JSON in response body",
		}
	}
	return json.RawMessage(respBody), nil
}

func classifyStatus(status int, path string, body []byte) *APIError {
	scrubbed := scrubCredentials(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: status, Message: "rate limit exceeded", Body: scrubbed}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Kind: KindAuthFailed, StatusCode: status, Message: "authentication failed", Body: scrubbed}
	case status == http.StatusPaymentRequired:
		return &APIError{Kind: KindPaymentRequired, StatusCode: status, Message: "payment required for this workspace plan", Body: scrubbed}
	case status == http.StatusGone:
		return &APIError{Kind: KindEndpointRetired, StatusCode: status, Message: fmt.Sprintf("endpoint %s is no longer available", path), Body: scrubbed}
	case status >= 400 && status < 500:
		return &APIError{Kind: KindClientError, StatusCode: status, Message: "client error", Body: scrubbed}
	case status >= 500:
		return &APIError{Kind: KindServerError, StatusCode: status, Message: "server error", Body: scrubbed}
	}
	return nil
}
