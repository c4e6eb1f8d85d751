package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUnit = 5 * time.Millisecond

func newTestClient(server *httptest.Server, maxRetries int) *Client {
	return NewClient(Options{
		APIServer:  server.URL,
		Token:      "secret",
		MaxRetries: maxRetries,
		RetryUnit:  testUnit,
		Timeout:    5 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestDoSendsHeadersAndDecodesJSON(t *testing.T) {
	var got http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, `{"id":"file-1","size":42}`)
	}))
	defer server.Close()

	client := newTestClient(server, 0)

	var out struct {
		ID   string `json:"id"`
		Size int64  `json:"size"`
	}
	err := client.Post(context.Background(), "/file-1/describe", map[string]any{"fields": true}, &out, false)
	require.NoError(t, err)

	assert.Equal(t, "file-1", out.ID)
	assert.Equal(t, int64(42), out.Size)
	assert.Equal(t, DefaultAPIVersion, got.Get(HeaderAPIVersion))
	assert.Equal(t, "Bearer secret", got.Get(HeaderAuthorization))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Empty(t, got.Get(HeaderAcceptEncoding))
	assert.JSONEq(t, `{"fields":true}`, string(gotBody))
}

func TestDoNoAuth(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get(HeaderAuthorization))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server, 0)
	req := client.NewRequest(http.MethodGet, server.URL+"/data")
	req.NoAuth = true
	req.Raw = true
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}

func TestRetryGetOnServiceUnavailable(t *testing.T) {
	const failures = 3
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	}))
	defer server.Close()

	client := newTestClient(server, 5)
	req := client.NewRequest(http.MethodGet, "/thing")
	var out map[string]bool
	req.Result = &out

	start := time.Now()
	_, err := client.Do(context.Background(), req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, out["ok"])
	assert.Equal(t, int32(failures+1), attempts.Load())

	// 2^1 + 2^2 + 2^3 units
	want := 14 * testUnit
	assert.GreaterOrEqual(t, elapsed, want)
	assert.Less(t, elapsed, want+2*time.Second)
}

func TestPostBadRequestIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusBadRequest, `{"error":{"type":"InvalidInput","message":"bad index"}}`)
	}))
	defer server.Close()

	client := NewClient(Options{APIServer: server.URL, MaxRetries: 5, RetryUnit: time.Second})

	start := time.Now()
	err := client.Post(context.Background(), "/file-1/upload", map[string]any{"index": 0}, nil, false)
	elapsed := time.Since(start)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, "InvalidInput", apiErr.Name)
	assert.Equal(t, "bad index", apiErr.Message)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.True(t, IsAPIError(err, ErrNameInvalidInput))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, int32(1), attempts.Load())
	assert.Less(t, elapsed, time.Second, "no backoff expected")
}

func TestPostServerErrorIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusInternalServerError, `{"error":{"type":"InternalError","message":"boom"}}`)
	}))
	defer server.Close()

	client := newTestClient(server, 2)
	err := client.Post(context.Background(), "/x", nil, nil, false)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "InternalError", apiErr.Name)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestAlwaysRetryPost(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer server.Close()

	client := newTestClient(server, 3)
	require.NoError(t, client.Post(context.Background(), "/x", nil, nil, true))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestNonJSONErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server, 3)
	err := client.Post(context.Background(), "/x", nil, nil, false)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestSeekableBodyRewound(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, data)
		n := len(bodies)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := []byte("0123456789abcdef")
	body := bytes.NewReader(payload)
	_, err := body.Seek(3, io.SeekStart)
	require.NoError(t, err)

	client := newTestClient(server, 4)
	req := client.NewRequest(http.MethodPost, "/upload")
	req.Body = body
	req.Raw = true
	_, err = client.Do(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	for i, b := range bodies {
		assert.Equal(t, payload[3:], b, "attempt %d body", i)
	}
}

func TestNonSeekableBodyBuffered(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server, 2)
	req := client.NewRequest(http.MethodPost, "/upload")
	req.Body = io.MultiReader(bytes.NewBufferString("hello "), bytes.NewBufferString("world"))
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello world", "hello world"}, bodies)
}

func TestContentLengthMismatch(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "short")
	}))
	defer server.Close()

	client := newTestClient(server, 2)
	req := client.NewRequest(http.MethodGet, "/data")
	req.Raw = true
	_, err := client.Do(context.Background(), req)

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr), "expected TransportError, got %v", err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestInvalidJSONIsDecodeError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusOK, `{"truncated":`)
	}))
	defer server.Close()

	client := newTestClient(server, 1)
	req := client.NewRequest(http.MethodGet, "/data")
	_, err := client.Do(context.Background(), req)

	var dErr *DecodeError
	require.True(t, errors.As(err, &dErr), "expected DecodeError, got %v", err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSnappyCompression(t *testing.T) {
	body := []byte(`{"compressed":true}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAcceptEncoding) != "snappy" {
			writeJSON(w, http.StatusOK, string(body))
			return
		}
		enc := snappy.Encode(nil, body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "snappy")
		w.Header().Set("Content-Length", strconv.Itoa(len(enc)))
		w.Write(enc)
	}))
	defer server.Close()

	client := NewClient(Options{APIServer: server.URL, Compression: true})
	var out map[string]bool
	require.NoError(t, client.Post(context.Background(), "/x", nil, &out, false))
	assert.True(t, out["compressed"])
}

func TestWantFullResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		io.WriteString(w, "streamed body")
	}))
	defer server.Close()

	client := newTestClient(server, 0)
	req := client.NewRequest(http.MethodGet, "/stream")
	req.WantFullResponse = true
	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.HTTP)
	defer resp.HTTP.Body.Close()

	data, err := io.ReadAll(resp.HTTP.Body)
	require.NoError(t, err)
	assert.Equal(t, "streamed body", string(data))
	assert.Equal(t, "yes", resp.Header.Get("X-Test"))
}

func TestURLFuncResolvedPerAttempt(t *testing.T) {
	var hits [3]atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/target/0":
			hits[0].Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/target/1":
			hits[1].Add(1)
			if r.Header.Get("X-Upload") != "1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			hits[2].Add(1)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server, 3)
	req := client.NewRequest(http.MethodPost, "")
	req.Body = bytes.NewReader([]byte("part"))
	req.AlwaysRetry = true
	req.Raw = true
	req.URLFunc = func(_ context.Context, attempt int) (string, http.Header, error) {
		h := http.Header{}
		h.Set("X-Upload", strconv.Itoa(attempt))
		return server.URL + "/target/" + strconv.Itoa(attempt), h, nil
	}

	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits[0].Load())
	assert.Equal(t, int32(1), hits[1].Load())
	assert.Equal(t, int32(0), hits[2].Load())
}

func TestURLFuncErrorStops(t *testing.T) {
	client := NewClient(Options{MaxRetries: 3, RetryUnit: testUnit})
	req := client.NewRequest(http.MethodPost, "")
	req.AlwaysRetry = true
	calls := 0
	sentinel := errors.New("no upload target")
	req.URLFunc = func(context.Context, int) (string, http.Header, error) {
		calls++
		return "", nil, sentinel
	}

	_, err := client.Do(context.Background(), req)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Options{APIServer: server.URL, MaxRetries: 5, RetryUnit: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Do(ctx, client.NewRequest(http.MethodGet, "/x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopStatusEndsRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "expired", http.StatusGone)
	}))
	defer server.Close()

	client := NewClient(Options{APIServer: server.URL, MaxRetries: 5, RetryUnit: testUnit})
	req := client.NewRequest(http.MethodGet, "/data")
	req.Raw = true
	req.StopStatus = func(status int) bool { return status == http.StatusGone }

	start := time.Now()
	_, err := client.Do(context.Background(), req)
	elapsed := time.Since(start)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusGone, httpErr.StatusCode)
	assert.Equal(t, int32(2), attempts.Load(), "503 retried, 410 returned at once")
	assert.Less(t, elapsed, 2*time.Second)
}
