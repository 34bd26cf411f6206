// internal/formapi/client.go
package formapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formsync/internal/common/config"
	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/common/metrics"
	"formsync/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// CallLogger records one row per upstream HTTP attempt. Recording failures
// must never abort the caller's request.
type CallLogger interface {
	Record(ctx context.Context, entry models.CallLogEntry) error
}

// envelopeSchema guards against malformed response envelopes before any
// content decoding happens.
const envelopeSchema = `{
	"type": "object",
	"required": ["responseCode", "message"],
	"properties": {
		"responseCode": {"type": "integer"},
		"message": {"type": "string"},
		"duration": {"type": "string"},
		"limit-left": {"type": "integer"}
	}
}`

var envelopeSchemaLoader = gojsonschema.NewStringLoader(envelopeSchema)

// retryableNetworkErrors is the fixed substring set that classifies a
// network-level failure as transient.
var retryableNetworkErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporary failure",
	"unexpected eof",
	"broken pipe",
}

// Client talks to the upstream form-submission API with exponential backoff
// on transient failures. Instances are immutable; WithAPIKey derives a keyed
// copy per sync cycle.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	logger         logger.Logger
	callLog        CallLogger
	maxAttempts    int
	initialBackoff time.Duration
	sleep          func(time.Duration)
}

func NewClient(cfg config.FormAPIConfig, log logger.Logger, callLog CallLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.GetDuration(cfg.Timeout),
		},
		logger:         log.WithFields(map[string]interface{}{"component": "formapi"}),
		callLog:        callLog,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: config.GetDuration(cfg.InitialBackoff),
		sleep:          time.Sleep,
	}
}

// WithAPIKey returns a copy of the client bound to the given API key.
func (c *Client) WithAPIKey(apiKey string) *Client {
	keyed := *c
	keyed.apiKey = apiKey
	return &keyed
}

// Request executes one API call with the full retry schedule: HTTP 429 and
// 5xx are retried with exponential backoff, other 4xx and malformed
// envelopes fail immediately, network errors are retried only when the
// failure classifies as transient.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values) (*Envelope, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("apiKey", c.apiKey)
	}

	delay := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		env, err := c.do(ctx, endpoint, params, attempt)
		if err == nil {
			return env, nil
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt < c.maxAttempts {
			c.logger.Warn("transient upstream failure, backing off", map[string]interface{}{
				"endpoint": endpoint,
				"attempt":  attempt,
				"delayMs":  delay.Milliseconds(),
				"error":    err.Error(),
			})
			c.sleep(delay)
			delay *= 2
		}
	}

	if errors.IsCode(lastErr, errors.ErrCodeRateLimited) {
		return nil, errors.NewRateLimitedError(endpoint, c.maxAttempts)
	}
	return nil, lastErr
}

// do performs a single attempt and records it in the call log.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values, attempt int) (*Envelope, error) {
	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, params.Encode())

	entry := models.CallLogEntry{
		Endpoint:  endpoint,
		LimitLeft: -1,
		Metadata: map[string]interface{}{
			"attempt": attempt,
		},
	}
	if cycleID := CycleID(ctx); cycleID != "" {
		entry.Metadata["syncId"] = cycleID
	}
	started := time.Now()

	env, status, err := c.execute(ctx, fullURL)

	entry.DurationMs = time.Since(started).Milliseconds()
	entry.StatusCode = status
	entry.Success = err == nil
	if err != nil {
		entry.Error = err.Error()
	}
	if env != nil && env.LimitLeft != nil {
		entry.LimitLeft = *env.LimitLeft
	}
	c.record(ctx, entry)

	return env, err
}

// execute issues the HTTP request and classifies the outcome.
func (c *Client) execute(ctx context.Context, fullURL string) (*Envelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, errors.NewNetworkError(err, false)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.NewNetworkError(err, isRetryableNetworkError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.NewNetworkError(err, isRetryableNetworkError(err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, errors.NewRateLimitedMarker()
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, errors.NewUpstreamError(resp.StatusCode, truncate(string(body), 512))
	case resp.StatusCode >= 400:
		return nil, resp.StatusCode, errors.NewUpstreamError(resp.StatusCode, truncate(string(body), 512))
	}

	env, err := parseEnvelope(body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if env.ResponseCode != http.StatusOK {
		return env, resp.StatusCode, errors.NewUpstreamError(env.ResponseCode,
			fmt.Sprintf("application-level error: %s", env.Message))
	}

	return env, resp.StatusCode, nil
}

// parseEnvelope validates the envelope shape before decoding. A malformed
// envelope is an immediate upstream error, never retried.
func parseEnvelope(body []byte) (*Envelope, error) {
	result, err := gojsonschema.Validate(envelopeSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, errors.NewUpstreamError(0, fmt.Sprintf("malformed response envelope: %v", err))
	}
	if !result.Valid() {
		return nil, errors.NewUpstreamError(0, fmt.Sprintf("malformed response envelope: %v", result.Errors()))
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewUpstreamError(0, fmt.Sprintf("malformed response envelope: %v", err))
	}
	return &env, nil
}

func (c *Client) record(ctx context.Context, entry models.CallLogEntry) {
	outcome := "failure"
	if entry.Success {
		outcome = "success"
	}
	metrics.APIRequestAttempts.WithLabelValues(entry.Endpoint, outcome).Inc()

	if c.callLog == nil {
		return
	}
	if err := c.callLog.Record(ctx, entry); err != nil {
		c.logger.Warn("call log insert failed", map[string]interface{}{
			"endpoint": entry.Endpoint,
			"error":    err,
		})
	}
}

func isRetryableNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableNetworkErrors {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// --- cycle id propagation ---

type ctxKey int

const cycleIDKey ctxKey = iota

// WithCycleID stamps a reconciliation cycle id into the context so call-log
// rows from one cycle can be correlated.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleID extracts the cycle id, or empty when unset.
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		return v
	}
	return ""
}
