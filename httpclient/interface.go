package httpclient

import (
	"context"
	"io"
	nethttp "net/http"
	"time"
)

// Client defines the REST client interface for making HTTP requests
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
}

// Request represents an HTTP request with all necessary data.
// JSON and Body are mutually exclusive: JSON is serialized as a JSON
// payload, Body is sent verbatim. Setting both is a configuration error.
type Request struct {
	URL     string
	Headers map[string]string
	JSON    any
	Body    []byte
	// Stream leaves the response body unread; the caller owns
	// Response.Stream and must close it.
	Stream bool
	Auth   *BasicAuth
}

// Response represents an HTTP response with tracking information.
// For streaming requests Body is nil and Stream holds the open body.
type Response struct {
	StatusCode int
	Body       []byte
	Stream     io.ReadCloser
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	// Attempts is the number of attempts made for this call, including
	// the one that produced the final outcome.
	Attempts int
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the REST client configuration
type Config struct {
	Timeout              time.Duration `validate:"gte=0"`
	Retry                RetryPolicy
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	BasicAuth            *BasicAuth
	DefaultHeaders       map[string]string
	// RequestsPerSecond caps the attempt rate when > 0; bursts of up to
	// RateBurst attempts are allowed.
	RequestsPerSecond float64 `validate:"gte=0"`
	RateBurst         int     `validate:"gte=0"`
	// LogPayloads enables debug-level logging of headers and body payloads
	LogPayloads bool
	// MaxPayloadLogBytes caps the number of body bytes logged when LogPayloads is enabled
	MaxPayloadLogBytes int `validate:"gte=0"`
}
