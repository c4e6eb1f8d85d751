// Package transport executes HTTP calls against the object-storage platform.
//
// This package handles:
//   - Bearer-token, API-version and compression headers
//   - Retry with exponential backoff (2^(attempt+1) units, no jitter)
//   - Rewinding request bodies between attempts
//   - Content-Length verification and JSON decoding of responses
//   - Structured API errors decoded from the platform's error envelope
//   - Idempotency nonces for retry-safe POSTs
//
// # Usage
//
//	client := transport.NewClient(transport.Options{
//	    APIServer: "https://api.example.com",
//	    Token:     token,
//	})
//
//	req := client.NewRequest(http.MethodPost, "/file-xxxx/describe")
//	req.JSON = map[string]any{}
//	var desc map[string]any
//	req.Result = &desc
//	_, err := client.Do(ctx, req)
//
// # Retry policy
//
// A failed attempt is retried while attempts remain and any of the following
// holds: the request carries AlwaysRetry, the method is GET, or the server
// answered with a 5xx status. Everything else fails immediately with the error
// of the last attempt.
//
// # Errors
//
// Failures surface as one of [*TransportError] (connectivity, truncation),
// [*APIError] (structured platform error), [*HTTPError] (non-JSON error
// status) or [*DecodeError] (malformed body). Use errors.As to inspect them.
package transport
