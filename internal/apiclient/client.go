// Package apiclient provides the retrying JSON client used for every backend call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// maxErrorBody bounds how much of a failed response body is kept.
	maxErrorBody = 64 << 10
	// maxBackoffShift caps the exponent so long retry chains cannot overflow.
	maxBackoffShift = 10
)

// StatusError is returned when the backend answers outside the 2xx range
// (after retries, for 5xx).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// Response is a decoded JSON response.
type Response[T any] struct {
	Status int
	Data   T
}

// Options configures a Client. Zero durations fall back to DefaultOptions.
type Options struct {
	Timeout        time.Duration
	StreamTimeout  time.Duration
	RetryMax       int
	RetryBaseDelay time.Duration
	RetryMaxJitter time.Duration
	LogRequests    bool
	Logger         *slog.Logger
	// Transport overrides the HTTP transport; nil uses a pooled default.
	Transport http.RoundTripper
}

// DefaultOptions returns default client configuration.
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		StreamTimeout:  300 * time.Second,
		RetryMax:       3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxJitter: 1000 * time.Millisecond,
	}
}

// Client posts JSON to the backend with timeout and retry. Requests carry no
// cookies or credentials.
type Client struct {
	json        *retryablehttp.Client
	stream      *retryablehttp.Client
	logger      *slog.Logger
	logRequests bool
}

// New creates a client from opts.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = def.StreamTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		logger:      opts.Logger,
		logRequests: opts.LogRequests,
	}
	c.json = c.newRetryClient(opts, opts.Timeout)
	c.stream = c.newRetryClient(opts, opts.StreamTimeout)
	return c
}

func (c *Client) newRetryClient(opts Options, timeout time.Duration) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	// Each attempt gets a fresh timeout window because the timeout lives on
	// the underlying http.Client, not on the request context.
	rc.HTTPClient = &http.Client{Timeout: timeout}
	if opts.Transport != nil {
		rc.HTTPClient.Transport = opts.Transport
	}
	rc.Logger = nil
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryBaseDelay
	rc.RetryWaitMax = backoffDelay(opts.RetryBaseDelay, opts.RetryMax) + opts.RetryMaxJitter
	rc.Backoff = exponentialJitter(opts.RetryBaseDelay, opts.RetryMaxJitter)
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			c.logger.Warn("Retrying request", "url", Sanitize(req.URL.String()), "attempt", attempt)
		}
	}
	return rc
}

// exponentialJitter waits 2^retry × base plus up to maxJitter of random delay.
// retryablehttp numbers attempts from 0; the first retry is retry 1.
func exponentialJitter(base, maxJitter time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		delay := backoffDelay(base, attemptNum)
		if maxJitter > 0 {
			delay += time.Duration(rand.Int64N(int64(maxJitter)))
		}
		return delay
	}
}

// backoffDelay is base × 2^(attemptNum+1) with the exponent capped at
// maxBackoffShift.
func backoffDelay(base time.Duration, attemptNum int) time.Duration {
	shift := min(max(attemptNum+1, 0), maxBackoffShift)
	return base << uint(shift)
}

// retryPolicy retries network failures, timeouts and any 5xx status.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

// Post sends body as JSON to url and decodes the JSON response into T.
func Post[T any](ctx context.Context, c *Client, url string, body any) (*Response[T], error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logInput(url, payload)

	resp, err := c.do(ctx, c.json, url, payload, "application/json")
	if err != nil {
		c.logError(url, err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logError(url, err)
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBody)}
		c.logError(url, statusErr)
		return nil, statusErr
	}
	c.logResponse(url, resp.StatusCode, data)

	out := &Response[T]{Status: resp.StatusCode}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Data); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

// OpenStream posts body and returns the raw response stream. The caller must
// close it. Only the status line is retried; the body is never replayed.
func (c *Client) OpenStream(ctx context.Context, url string, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logInput(url, payload)

	resp, err := c.do(ctx, c.stream, url, payload, "text/event-stream")
	if err != nil {
		c.logError(url, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
		c.logError(url, statusErr)
		return nil, statusErr
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, rc *retryablehttp.Client, url string, payload []byte, accept string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := rc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("no response")
	}
	return resp, nil
}

func (c *Client) logInput(url string, payload []byte) {
	if !c.logRequests {
		return
	}
	c.logger.Info("API request", "url", Sanitize(url), "input", SanitizeBody(payload))
}

func (c *Client) logResponse(url string, status int, data []byte) {
	if !c.logRequests {
		return
	}
	c.logger.Info("API response", "url", Sanitize(url), "status", status, "response", SanitizeBody(data))
}

func (c *Client) logError(url string, err error) {
	if !c.logRequests {
		return
	}
	c.logger.Error("API error", "url", Sanitize(url), "error", Sanitize(err.Error()))
}
