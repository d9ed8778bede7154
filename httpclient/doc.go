// Package httpclient provides a small, composable HTTP client used to talk
// to freshly provisioned inference services whose backends may still be
// warming up. It offers request/response interceptors, default headers,
// basic auth, optional client-side rate limiting, and a bounded retry
// mechanism with exponential backoff.
//
// Retries
//   - Controlled via RetryPolicy (total retries, backoff factor, retryable
//     status set).
//   - Retries occur on:
//   - Transport errors (network failures)
//   - Timeouts (context deadline exceeded or net.Error timeout)
//   - Responses whose status code is in RetryPolicy.RetryStatusCodes
//     (default 404, 429, 502, 503, 504).
//   - Any other completed response is terminal and returned to the caller
//     as-is, whatever its status code. This layer never converts a non-2xx
//     response into an error, even after retries are exhausted on a
//     retryable status; callers branch on Response.StatusCode themselves.
//
// Backoff Strategy
//   - Geometric backoff: delay before retry i (1-based) is
//     BackoffFactor * 2^(i-1) seconds.
//   - Delay is capped at RetryPolicy.MaxBackoff (default 30 seconds).
//   - Waits are context-aware: cancelling the request context interrupts
//     the wait.
//
// Notes
//   - Request bodies are re-sent by rebuilding the http.Request on each
//     attempt.
//   - A Request carries either a structured JSON body or a raw byte body,
//     never both; supplying both is a configuration error detected before
//     any network activity.
//   - Interceptor errors are not retried and are surfaced immediately.
package httpclient
