package httpclient

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spolti/kserve/logger"
	"github.com/spolti/kserve/trace"
)

// Test constants to avoid string duplication
const (
	testAPIKey         = "X-API-Key"
	testAPIValue       = "test-key"
	testContentTypeHdr = "Content-Type"
	testJSONType       = "application/json"
	testRefusedURL     = "http://127.0.0.1:1"
)

// createTestLogger creates a logger that discards output for testing
func createTestLogger() logger.Logger {
	return logger.Nop()
}

// newSleepRecorder replaces the client's backoff wait with a recorder so
// tests can assert on computed delays without sleeping.
func newSleepRecorder(t *testing.T, c Client) *[]time.Duration {
	t.Helper()
	impl, ok := c.(*client)
	require.True(t, ok)

	recorded := &[]time.Duration{}
	impl.sleep = func(_ context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return nil
	}
	return recorded
}

func buildClient(t *testing.T, b *Builder) Client {
	t.Helper()
	c, err := b.Build()
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	client := NewClient(createTestLogger())
	assert.NotNil(t, client)
}

func TestBuilder(t *testing.T) {
	log := createTestLogger()

	t.Run("default configuration", func(t *testing.T) {
		client, err := NewBuilder(log).Build()
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("with retry policy", func(t *testing.T) {
		client, err := NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     2,
				BackoffFactor:    0.5,
				RetryStatusCodes: []int{503},
			}).
			Build()
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("with rate limit", func(t *testing.T) {
		client, err := NewBuilder(log).
			WithRateLimit(100, 10).
			Build()
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("rejects negative retries", func(t *testing.T) {
		_, err := NewBuilder(log).
			WithRetryPolicy(RetryPolicy{TotalRetries: -1}).
			Build()
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	t.Run("rejects negative timeout", func(t *testing.T) {
		_, err := NewBuilder(log).
			WithTimeout(-1 * time.Second).
			Build()
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})
}

func TestRequestValidation(t *testing.T) {
	log := createTestLogger()

	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	client := NewClient(log)

	t.Run("nil request", func(t *testing.T) {
		_, err := client.Post(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := client.Post(context.Background(), &Request{})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	t.Run("malformed URL", func(t *testing.T) {
		_, err := client.Post(context.Background(), &Request{URL: "://missing-scheme"})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	t.Run("both JSON and raw body set", func(t *testing.T) {
		req := &Request{
			URL:  server.URL,
			JSON: map[string]any{"a": 1},
			Body: []byte("raw"),
		}
		_, err := client.Post(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	t.Run("unserializable JSON body", func(t *testing.T) {
		req := &Request{
			URL:  server.URL,
			JSON: make(chan int),
		}
		_, err := client.Post(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsErrorType(err, ConfigurationError))
	})

	// None of the configuration errors above may reach the network
	assert.Equal(t, int32(0), calls.Load())
}

func TestClientRetries(t *testing.T) {
	log := createTestLogger()

	t.Run("retries retryable status then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(nethttp.StatusServiceUnavailable)
				w.Write([]byte("warming up"))
				return
			}
			w.WriteHeader(nethttp.StatusOK)
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     2,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		waits := newSleepRecorder(t, client)

		resp, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(resp.Body))
		assert.Equal(t, 3, resp.Stats.Attempts)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *waits)
	})

	t.Run("returns last retryable response after exhaustion", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			calls.Add(1)
			w.WriteHeader(nethttp.StatusNotFound)
			w.Write([]byte("no route yet"))
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     2,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		newSleepRecorder(t, client)

		resp, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "no route yet", string(resp.Body))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry status outside the retry set", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			calls.Add(1)
			w.WriteHeader(nethttp.StatusBadRequest)
			w.Write([]byte("bad"))
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     3,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		waits := newSleepRecorder(t, client)

		resp, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 1, resp.Stats.Attempts)
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, *waits)
	})

	t.Run("zero retries makes exactly one attempt", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			calls.Add(1)
			w.WriteHeader(nethttp.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     0,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		waits := newSleepRecorder(t, client)

		resp, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, *waits)
	})

	t.Run("connection refused surfaces network error after exhaustion", func(t *testing.T) {
		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     1,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		waits := newSleepRecorder(t, client)

		_, err := client.Post(context.Background(), &Request{URL: testRefusedURL})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, NetworkError))
		assert.Len(t, *waits, 1)
	})

	t.Run("connection refused with zero retries waits nowhere", func(t *testing.T) {
		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     0,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		waits := newSleepRecorder(t, client)

		_, err := client.Post(context.Background(), &Request{URL: testRefusedURL})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, NetworkError))
		assert.Empty(t, *waits)
	})

	t.Run("timeout surfaces timeout error after exhaustion", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			calls.Add(1)
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithTimeout(10*time.Millisecond).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     1,
				BackoffFactor:    1.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))
		newSleepRecorder(t, client)

		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, TimeoutError))
		assert.Equal(t, int32(2), calls.Load()) // initial + one retry
	})

	t.Run("cancelled context interrupts backoff wait", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRetryPolicy(RetryPolicy{
				TotalRetries:     3,
				BackoffFactor:    10.0,
				RetryStatusCodes: DefaultRetryStatusCodes(),
			}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		_, err := client.Post(ctx, &Request{URL: server.URL})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestClientHeadersAndAuth(t *testing.T) {
	log := createTestLogger()

	t.Run("default headers and per-request override", func(t *testing.T) {
		var headers nethttp.Header
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			headers = r.Header.Clone()
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithDefaultHeader(testAPIKey, testAPIValue).
			WithDefaultHeader("User-Agent", "default-agent"))

		req := &Request{
			URL:     server.URL,
			Headers: map[string]string{"User-Agent": "request-agent"},
		}
		_, err := client.Post(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, testAPIValue, headers.Get(testAPIKey))
		assert.Equal(t, "request-agent", headers.Get("User-Agent"))
	})

	t.Run("JSON body gets JSON content type", func(t *testing.T) {
		var contentType string
		var received []byte
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			contentType = r.Header.Get(testContentTypeHdr)
			received, _ = io.ReadAll(r.Body)
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := NewClient(log)
		req := &Request{
			URL:  server.URL,
			JSON: map[string]any{"a": 1},
		}
		_, err := client.Post(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, testJSONType, contentType)
		assert.JSONEq(t, `{"a":1}`, string(received))
	})

	t.Run("basic auth applied", func(t *testing.T) {
		var user, pass string
		var okAuth bool
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			user, pass, okAuth = r.BasicAuth()
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).WithBasicAuth("user", "secret"))
		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.True(t, okAuth)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)
	})

	t.Run("request ID header added automatically", func(t *testing.T) {
		var headers nethttp.Header
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			headers = r.Header.Clone()
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := NewClient(log)
		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Len(t, headers.Get(trace.HeaderXRequestID), 36) // UUID format
	})

	t.Run("request ID from context propagated", func(t *testing.T) {
		var headers nethttp.Header
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			headers = r.Header.Clone()
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := NewClient(log)
		ctx := trace.WithRequestID(context.Background(), "custom-id-123")
		_, err := client.Post(ctx, &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, "custom-id-123", headers.Get(trace.HeaderXRequestID))
	})
}

func TestClientInterceptors(t *testing.T) {
	log := createTestLogger()

	t.Run("request interceptor failure is terminal", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			calls.Add(1)
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRequestInterceptor(func(_ context.Context, _ *nethttp.Request) error {
				return assert.AnError
			}))

		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, InterceptorError))
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("response interceptor failure is terminal", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithResponseInterceptor(func(_ context.Context, _ *nethttp.Request, _ *nethttp.Response) error {
				return assert.AnError
			}))

		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.Error(t, err)
		assert.True(t, IsErrorType(err, InterceptorError))
	})

	t.Run("request interceptor can mutate the request", func(t *testing.T) {
		var headers nethttp.Header
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			headers = r.Header.Clone()
			w.WriteHeader(nethttp.StatusOK)
		}))
		defer server.Close()

		client := buildClient(t, NewBuilder(log).
			WithRequestInterceptor(func(_ context.Context, req *nethttp.Request) error {
				req.Header.Set("X-Intercepted", "true")
				return nil
			}))

		_, err := client.Post(context.Background(), &Request{URL: server.URL})
		require.NoError(t, err)
		assert.Equal(t, "true", headers.Get("X-Intercepted"))
	})
}

func TestClientStreaming(t *testing.T) {
	log := createTestLogger()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		w.Write([]byte("streamed payload"))
	}))
	defer server.Close()

	client := NewClient(log)
	resp, err := client.Post(context.Background(), &Request{URL: server.URL, Stream: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	assert.Nil(t, resp.Body)
	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "streamed payload", string(data))
}

func TestClientStats(t *testing.T) {
	log := createTestLogger()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	client := NewClient(log)
	resp, err := client.Get(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Stats.Attempts)
	assert.Greater(t, resp.Stats.ElapsedTime, 10*time.Millisecond)
}
