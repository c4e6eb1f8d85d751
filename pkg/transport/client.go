package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Header names used on every platform call.
const (
	HeaderAPIVersion     = "DNAnexus-API"
	HeaderAcceptEncoding = "Accept-Encoding"
	HeaderAuthorization  = "Authorization"
)

// DefaultAPIVersion is sent in the API version header when Options.APIVersion is empty.
const DefaultAPIVersion = "1.0.0"

// Options configures the transport client.
type Options struct {
	// APIServer is the base URL that resources are appended to,
	// e.g. "https://api.example.com".
	APIServer string

	// Token is the bearer token attached to authenticated requests.
	Token string

	// APIVersion is sent in the DNAnexus-API header.
	// Default: 1.0.0
	APIVersion string

	// UserAgent is sent with every request.
	// Default: objstream
	UserAgent string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds a single attempt.
	// Default: 600s
	Timeout time.Duration

	// MaxRetries is the default retry budget of new requests. Set to -1 to
	// disable retries.
	// Default: 5
	MaxRetries int

	// RetryUnit is the backoff time unit; retry n waits 2^(n+1) units.
	// Default: 1s
	RetryUnit time.Duration

	// Compression negotiates snappy-compressed responses for API calls.
	Compression bool

	// Logger receives retry warnings. Default: no-op.
	Logger *zap.Logger

	// HTTPClient overrides the underlying client. Timeout and Transport
	// settings above are ignored when set.
	HTTPClient *http.Client
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		APIVersion:          DefaultAPIVersion,
		UserAgent:           "objstream",
		MaxIdleConnsPerHost: 100,
		Timeout:             600 * time.Second,
		MaxRetries:          DefaultRetries,
		RetryUnit:           time.Second,
	}
}

// Request describes one logical call. Build it with Client.NewRequest so the
// client defaults are applied; fields may be adjusted before Do.
type Request struct {
	Method string

	// Resource is a path appended to Options.APIServer. Ignored when URL or
	// URLFunc is set.
	Resource string

	// URL is an absolute target.
	URL string

	// URLFunc resolves the target before every attempt. Headers it returns
	// are added to the request. Used for single-use upload targets.
	URLFunc func(ctx context.Context, attempt int) (string, http.Header, error)

	Header http.Header

	// Body is sent verbatim. An io.Seeker is rewound to its initial offset
	// before each retry; any other reader is buffered once.
	Body io.Reader

	// JSON, when non-nil, is encoded as the request body instead of Body.
	JSON any

	// Result receives the decoded JSON response body.
	Result any

	// Timeout overrides Options.Timeout for this request.
	Timeout time.Duration

	// NoAuth omits the Authorization header (pre-authenticated URLs).
	NoAuth bool

	// AlwaysRetry marks the call as safe to retry regardless of method.
	AlwaysRetry bool

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// StopStatus, when set, ends the retry loop for any response status it
	// reports true for. The error of that attempt is returned at once.
	StopStatus func(status int) bool

	// WantFullResponse returns the unread *http.Response on success; the
	// caller must close Response.HTTP.Body.
	WantFullResponse bool

	// Raw skips JSON decoding of the response body.
	Raw bool

	// Compression negotiates snappy-compressed responses.
	Compression bool
}

// Response is the result of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the (decompressed) response body. Empty when WantFullResponse is set.
	Body []byte

	// HTTP is set only for WantFullResponse requests.
	HTTP *http.Response
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Client executes requests against the platform.
type Client struct {
	client *http.Client
	opts   Options
	policy RetryPolicy
	log    *zap.Logger
}

// NewClient creates a new client with the given options. Zero fields take
// their defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.APIVersion == "" {
		opts.APIVersion = def.APIVersion
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = def.MaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.RetryUnit <= 0 {
		opts.RetryUnit = def.RetryUnit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.APIServer = strings.TrimSuffix(opts.APIServer, "/")

	client := opts.HTTPClient
	if client == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // We want raw bytes for range requests
		}
		client = &http.Client{Transport: transport}
	}

	return &Client{
		client: client,
		opts:   opts,
		policy: RetryPolicy{Unit: opts.RetryUnit},
		log:    opts.Logger,
	}
}

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger {
	return c.log
}

// MaxRetries returns the default retry budget of new requests.
func (c *Client) MaxRetries() int {
	return c.opts.MaxRetries
}

// NewRequest creates a request with the client defaults applied. target is
// either an absolute URL or a resource path relative to the API server.
func (c *Client) NewRequest(method, target string) *Request {
	req := &Request{
		Method:      method,
		Header:      make(http.Header),
		MaxRetries:  c.opts.MaxRetries,
		Compression: c.opts.Compression,
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req.URL = target
	} else {
		req.Resource = target
	}
	return req
}

// Post performs a JSON API call: input is encoded as the body and the response
// is decoded into output (which may be nil).
func (c *Client) Post(ctx context.Context, resource string, input, output any, alwaysRetry bool) error {
	req := c.NewRequest(http.MethodPost, resource)
	if input == nil {
		input = map[string]any{}
	}
	req.JSON = input
	req.Result = output
	req.AlwaysRetry = alwaysRetry
	_, err := c.Do(ctx, req)
	return err
}

// Do executes the request, retrying failed attempts according to the retry
// policy. After the retry budget is exhausted, the error of the last attempt
// is returned unchanged.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	header := c.headers(req, method)

	body, offset, length, err := prepareBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		resp, status, retryable, err := c.attempt(ctx, method, req, attempt, body, length, header)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable || ctx.Err() != nil {
			break
		}
		if status != 0 && req.StopStatus != nil && req.StopStatus(status) {
			break
		}
		retry, delay := c.policy.ShouldRetry(method, status, req.AlwaysRetry, attempt, req.MaxRetries)
		if !retry {
			break
		}

		if body != nil {
			if _, err := body.Seek(offset, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
		}

		c.log.Warn("request failed, retrying",
			zap.String("method", method),
			zap.String("url", c.target(req)),
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("retry", attempt+1),
			zap.Int("max_retries", req.MaxRetries),
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// attempt performs a single HTTP exchange. status is the received status code
// (0 when no response arrived); retryable is false for errors that no retry
// can fix, such as a malformed URL.
func (c *Client) attempt(ctx context.Context, method string, req *Request, attempt int, body io.ReadSeeker, length int64, base http.Header) (resp *Response, status int, retryable bool, err error) {
	header := base.Clone()
	target := c.target(req)
	if req.URLFunc != nil {
		u, extra, err := req.URLFunc(ctx, attempt)
		if err != nil {
			return nil, 0, false, fmt.Errorf("resolve request url: %w", err)
		}
		target = u
		for k, vs := range extra {
			header.Del(k)
			for _, v := range vs {
				header.Add(k, v)
			}
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	var reqBody io.Reader
	if body != nil {
		reqBody = io.NopCloser(body)
	}
	hreq, err := http.NewRequestWithContext(actx, method, target, reqBody)
	if err != nil {
		return nil, 0, false, fmt.Errorf("create request: %w", err)
	}
	hreq.Header = header
	if body != nil {
		hreq.ContentLength = length
		if length == 0 {
			hreq.Body = http.NoBody
		}
	}

	hresp, err := c.client.Do(hreq)
	if err != nil {
		return nil, 0, true, &TransportError{Method: method, URL: target, Err: err}
	}
	status = hresp.StatusCode

	if status/100 != 2 {
		data, rerr := io.ReadAll(hresp.Body)
		hresp.Body.Close()
		if isJSON(hresp.Header) {
			if rerr != nil {
				return nil, status, true, &TransportError{Method: method, URL: target, Err: rerr}
			}
			return nil, status, true, parseAPIError(data, status)
		}
		return nil, status, true, &HTTPError{StatusCode: status, Status: hresp.Status}
	}

	if req.WantFullResponse {
		hresp.Body = &cancelOnClose{ReadCloser: hresp.Body, cancel: cancel}
		cancel = nil
		return &Response{StatusCode: status, Header: hresp.Header, HTTP: hresp}, status, true, nil
	}

	data, err := io.ReadAll(hresp.Body)
	hresp.Body.Close()
	if err != nil {
		return nil, status, true, &TransportError{Method: method, URL: target, Err: err}
	}

	if hresp.ContentLength >= 0 && method != http.MethodHead && int64(len(data)) != hresp.ContentLength {
		return nil, status, true, &TransportError{Method: method, URL: target, Err: &ContentLengthError{
			Declared: hresp.ContentLength,
			Received: int64(len(data)),
			Range:    header.Get("Range"),
		}}
	}

	if req.Compression {
		data, err = decompress(hresp.Header.Get("Content-Encoding"), data)
		if err != nil {
			return nil, status, true, &DecodeError{Err: err}
		}
	}

	if !req.Raw && isJSON(hresp.Header) {
		if req.Result != nil {
			if err := json.Unmarshal(data, req.Result); err != nil {
				return nil, status, true, &DecodeError{Err: err}
			}
		} else if !json.Valid(data) {
			return nil, status, true, &DecodeError{Err: fmt.Errorf("invalid JSON received from server")}
		}
	}

	return &Response{StatusCode: status, Header: hresp.Header, Body: data}, status, true, nil
}

// headers builds the header set shared by all attempts.
func (c *Client) headers(req *Request, method string) http.Header {
	header := make(http.Header, len(req.Header)+4)
	for k, vs := range req.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	header.Set(HeaderAPIVersion, c.opts.APIVersion)
	header.Set("User-Agent", c.opts.UserAgent)
	if !req.NoAuth && c.opts.Token != "" {
		header.Set(HeaderAuthorization, "Bearer "+c.opts.Token)
	}
	if req.Compression {
		header.Set(HeaderAcceptEncoding, encodingSnappy)
	}
	if req.JSON != nil && method == http.MethodPost && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	return header
}

func (c *Client) target(req *Request) string {
	if req.URL != "" {
		return req.URL
	}
	return c.opts.APIServer + req.Resource
}

// prepareBody turns the request payload into a seekable body and records the
// offset to rewind to and the number of bytes to send.
func prepareBody(req *Request) (io.ReadSeeker, int64, int64, error) {
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(data), 0, int64(len(data)), nil
	}
	if req.Body == nil {
		return nil, 0, 0, nil
	}

	rs, ok := req.Body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("buffer request body: %w", err)
		}
		return bytes.NewReader(data), 0, int64(len(data)), nil
	}

	offset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("record body offset: %w", err)
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("measure body: %w", err)
	}
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, 0, fmt.Errorf("rewind request body: %w", err)
	}
	return rs, offset, end - offset, nil
}

func isJSON(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cancelOnClose releases the attempt context once the caller is done with
// the body of a full response.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
