package httpclient

import (
	"context"
	"time"

	"github.com/spolti/kserve/logger"
)

// postOptions collects the per-call settings for PostWithRetry
type postOptions struct {
	headers map[string]string
	json    any
	body    []byte
	stream  bool
	timeout time.Duration
	policy  RetryPolicy
	log     logger.Logger
}

// PostOption customizes a PostWithRetry call
type PostOption func(*postOptions)

// WithHeaders sets the request headers
func WithHeaders(headers map[string]string) PostOption {
	return func(o *postOptions) { o.headers = headers }
}

// WithJSONBody sets a structured body serialized as JSON. Mutually
// exclusive with WithRawBody.
func WithJSONBody(v any) PostOption {
	return func(o *postOptions) { o.json = v }
}

// WithRawBody sets a raw byte body sent verbatim. Mutually exclusive with
// WithJSONBody.
func WithRawBody(body []byte) PostOption {
	return func(o *postOptions) { o.body = body }
}

// WithStream leaves the response body unread; the caller owns
// Response.Stream and must close it
func WithStream() PostOption {
	return func(o *postOptions) { o.stream = true }
}

// WithTimeout sets the per-attempt request timeout
func WithTimeout(timeout time.Duration) PostOption {
	return func(o *postOptions) { o.timeout = timeout }
}

// WithTotalRetries sets the number of retries after the initial attempt
func WithTotalRetries(n int) PostOption {
	return func(o *postOptions) { o.policy.TotalRetries = n }
}

// WithBackoffFactor sets the geometric backoff factor, in seconds
func WithBackoffFactor(factor float64) PostOption {
	return func(o *postOptions) { o.policy.BackoffFactor = factor }
}

// WithRetryStatusCodes replaces the set of status codes treated as
// retryable
func WithRetryStatusCodes(codes ...int) PostOption {
	return func(o *postOptions) { o.policy.RetryStatusCodes = codes }
}

// WithLogger injects the logger used for request/retry logging. Without
// it the call logs nothing.
func WithLogger(log logger.Logger) PostOption {
	return func(o *postOptions) { o.log = log }
}

// PostWithRetry sends a POST request with retries for transient HTTP and
// network failures. Defaults: 4 retries, backoff factor 1.0, retryable
// statuses 404, 429, 502, 503 and 504.
//
// A completed response is returned whatever its status code, including the
// last retryable-status response once retries are exhausted; only
// configuration errors and fully-exhausted connection-level failures
// surface as errors. The underlying connections are scoped to this call
// and released before it returns.
func PostWithRetry(ctx context.Context, url string, opts ...PostOption) (*Response, error) {
	o := &postOptions{
		timeout: DefaultTimeout,
		policy:  DefaultRetryPolicy(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cl, err := NewBuilder(o.log).
		WithTimeout(o.timeout).
		WithRetryPolicy(o.policy).
		Build()
	if err != nil {
		return nil, err
	}
	c := cl.(*client)
	defer c.transport.CloseIdleConnections()

	req := &Request{
		URL:     url,
		Headers: o.headers,
		JSON:    o.json,
		Body:    o.body,
		Stream:  o.stream,
	}
	return c.Post(ctx, req)
}
