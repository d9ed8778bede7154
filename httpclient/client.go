package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/spolti/kserve/internal/validation"
	"github.com/spolti/kserve/logger"
	"github.com/spolti/kserve/trace"
)

const (
	// DefaultTimeout is the default request timeout duration
	DefaultTimeout = 30 * time.Second

	// DefaultMaxPayloadLogBytes caps logged body payloads when payload
	// logging is enabled
	DefaultMaxPayloadLogBytes = 4096

	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json"
)

// client implements the Client interface
type client struct {
	httpClient           *nethttp.Client
	transport            *nethttp.Transport
	logger               logger.Logger
	config               *Config
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	limiter              *rate.Limiter
	// sleep performs backoff waits; swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return NewConfigurationError(err.Error(), "")
	}
	return nil
}

// NewClient creates a new REST client with the default configuration and
// retry policy
func NewClient(log logger.Logger) Client {
	c, _ := NewBuilder(log).Build()
	return c
}

// Builder provides a fluent interface for configuring the REST client
type Builder struct {
	config *Config
	logger logger.Logger
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		config: &Config{
			Timeout:              DefaultTimeout,
			Retry:                DefaultRetryPolicy(),
			RequestInterceptors:  []RequestInterceptor{NewRequestIDInterceptor()},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       make(map[string]string),
			MaxPayloadLogBytes:   DefaultMaxPayloadLogBytes,
		},
		logger: log,
	}
}

// WithTimeout sets the per-attempt request timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithRetryPolicy sets the retry policy
func (b *Builder) WithRetryPolicy(policy RetryPolicy) *Builder {
	b.config.Retry = policy
	return b
}

// WithBasicAuth sets basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithRateLimit caps the attempt rate at rps requests per second with the
// given burst
func (b *Builder) WithRateLimit(rps float64, burst int) *Builder {
	b.config.RequestsPerSecond = rps
	b.config.RateBurst = burst
	return b
}

// WithPayloadLogging enables debug-level logging of request and response
// payloads, truncated to maxBytes
func (b *Builder) WithPayloadLogging(maxBytes int) *Builder {
	b.config.LogPayloads = true
	if maxBytes > 0 {
		b.config.MaxPayloadLogBytes = maxBytes
	}
	return b
}

// Build creates the REST client with the configured options
func (b *Builder) Build() (Client, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	transport := &nethttp.Transport{}
	c := &client{
		httpClient: &nethttp.Client{
			Timeout:   b.config.Timeout,
			Transport: transport,
		},
		transport:            transport,
		logger:               b.logger,
		config:               b.config,
		requestInterceptors:  b.config.RequestInterceptors,
		responseInterceptors: b.config.ResponseInterceptors,
		sleep:                sleepContext,
	}
	if b.config.RequestsPerSecond > 0 {
		burst := b.config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(b.config.RequestsPerSecond), burst)
	}
	return c, nil
}

// NewRequestIDInterceptor creates a request interceptor that adds an
// X-Request-ID header when none is present
func NewRequestIDInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(trace.HeaderXRequestID) == "" {
			req.Header.Set(trace.HeaderXRequestID, trace.EnsureRequestID(ctx))
		}
		return nil
	}
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, req)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, req)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, req)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, req)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, req)
}

// Do performs an HTTP request with the specified method, retrying failures
// classified as transient by the configured retry policy. Completed
// responses are returned as data whatever their status code; only
// configuration errors and fully-exhausted connection-level failures are
// returned as errors.
func (c *client) Do(ctx context.Context, method string, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	policy := &c.config.Retry
	totalRetries := policy.TotalRetries

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, NewNetworkError("rate limiter wait aborted", err)
			}
		}

		c.logRequest(method, req, body, attempt)

		httpReq, err := c.buildRequest(ctx, method, req, body)
		if err != nil {
			return nil, err
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if attempt < totalRetries {
				if werr := c.waitBackoff(ctx, attempt+1, err.Error()); werr != nil {
					return nil, NewNetworkError("backoff wait aborted", werr)
				}
				continue
			}
			if c.isTimeout(err) {
				return nil, NewTimeoutError("request timed out after all attempts", c.config.Timeout)
			}
			return nil, NewNetworkError("request failed after all attempts", err)
		}

		if policy.isRetryableStatus(httpResp.StatusCode) && attempt < totalRetries {
			status := httpResp.StatusCode
			drainResponse(httpResp)
			if werr := c.waitBackoff(ctx, attempt+1, nethttp.StatusText(status)); werr != nil {
				return nil, NewNetworkError("backoff wait aborted", werr)
			}
			continue
		}

		resp, err := c.buildResponse(ctx, start, attempt+1, req, httpReq, httpResp)
		if err != nil {
			if attempt < totalRetries && IsErrorType(err, NetworkError) {
				if werr := c.waitBackoff(ctx, attempt+1, err.Error()); werr != nil {
					return nil, NewNetworkError("backoff wait aborted", werr)
				}
				continue
			}
			return nil, err
		}

		c.logResponse(resp)
		return resp, nil
	}
}

// waitBackoff suspends the call before retry number retryIndex (1-based)
func (c *client) waitBackoff(ctx context.Context, retryIndex int, reason string) error {
	delay := c.config.Retry.backoffDelay(retryIndex)
	c.logger.Debug().
		Int("retry", retryIndex).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("REST client retrying request")
	return c.sleep(ctx, delay)
}

// validateRequest validates the request before any network activity
func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return NewConfigurationError("request cannot be nil", "request")
	}
	if req.URL == "" {
		return NewConfigurationError("URL cannot be empty", "url")
	}
	if req.JSON != nil && req.Body != nil {
		return NewConfigurationError("only one of JSON or Body can be provided", "body")
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewConfigurationError("URL is malformed", "url")
	}
	return nil
}

// encodeBody resolves the request's body payload once, before the first
// attempt, so bodies are replayable across retries
func encodeBody(req *Request) ([]byte, error) {
	if req.JSON != nil {
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, NewConfigurationError("JSON body is not serializable: "+err.Error(), "json")
		}
		return payload, nil
	}
	return req.Body, nil
}

// applyHeaders applies headers to the HTTP request
func (c *client) applyHeaders(httpReq *nethttp.Request, req *Request, body []byte) {
	// Apply default headers first
	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}

	// Apply request-specific headers (these override defaults)
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if httpReq.Header.Get(contentTypeHeader) == "" && (req.JSON != nil || body != nil) {
		httpReq.Header.Set(contentTypeHeader, contentTypeJSON)
	}
}

// applyAuth applies authentication to the HTTP request
func (c *client) applyAuth(httpReq *nethttp.Request, req *Request) {
	// Request-specific auth takes precedence
	auth := req.Auth
	if auth == nil {
		auth = c.config.BasicAuth
	}

	if auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
}

// buildRequest constructs an *http.Request, applies headers/auth, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, method string, req *Request, body []byte) (*nethttp.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, NewConfigurationError("failed to create HTTP request: "+err.Error(), "url")
	}

	c.applyHeaders(httpReq, req, body)
	c.applyAuth(httpReq, req)

	if err := c.runRequestInterceptors(ctx, httpReq); err != nil {
		return nil, NewInterceptorError("request interceptor failed", "request", err)
	}
	return httpReq, nil
}

// buildResponse runs response interceptors and builds a Response. For
// streaming requests the body is handed back open; otherwise it is read
// and closed.
func (c *client) buildResponse(ctx context.Context, start time.Time, attempts int, req *Request, httpReq *nethttp.Request, httpResp *nethttp.Response) (*Response, error) {
	if err := c.runResponseInterceptors(ctx, httpReq, httpResp); err != nil {
		httpResp.Body.Close()
		return nil, NewInterceptorError("response interceptor failed", "response", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Stats: Stats{
			ElapsedTime: time.Since(start),
			Attempts:    attempts,
		},
	}

	if req.Stream {
		resp.Stream = httpResp.Body
		return resp, nil
	}

	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewNetworkError("failed to read response body", err)
	}
	resp.Body = respBody
	return resp, nil
}

// drainResponse discards a retryable response so its connection can be
// reused for the next attempt
func drainResponse(httpResp *nethttp.Response) {
	io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64*1024))
	httpResp.Body.Close()
}

func (c *client) isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// runRequestInterceptors executes all request interceptors
func (c *client) runRequestInterceptors(ctx context.Context, req *nethttp.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// runResponseInterceptors executes all response interceptors
func (c *client) runResponseInterceptors(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// logRequest logs the outgoing request
func (c *client) logRequest(method string, req *Request, body []byte, attempt int) {
	logEvent := c.logger.Info().
		Str("direction", "outbound").
		Str("method", method).
		Str("url", req.URL)

	if attempt > 0 {
		logEvent = logEvent.Int("attempt", attempt+1)
	}

	logEvent.Msg("REST client request")

	if c.config.LogPayloads {
		debugEvent := c.logger.Debug()
		if len(req.Headers) > 0 {
			debugEvent = debugEvent.Interface("headers", req.Headers)
		}
		if len(body) > 0 {
			debugEvent = debugEvent.Bytes("body", truncatePayload(body, c.config.MaxPayloadLogBytes))
		}
		debugEvent.Msg("REST client request payload")
	}
}

// logResponse logs the incoming response
func (c *client) logResponse(resp *Response) {
	logEvent := c.logger.Info().
		Str("direction", "inbound").
		Int("status", resp.StatusCode).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Int("attempts", resp.Stats.Attempts)

	logEvent.Msg("REST client response")

	if c.config.LogPayloads && len(resp.Body) > 0 {
		c.logger.Debug().
			Bytes("body", truncatePayload(resp.Body, c.config.MaxPayloadLogBytes)).
			Msg("REST client response payload")
	}
}

func truncatePayload(payload []byte, maxBytes int) []byte {
	if maxBytes > 0 && len(payload) > maxBytes {
		return payload[:maxBytes]
	}
	return payload
}
