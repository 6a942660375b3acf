package tangguh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// maxBodyBytes caps how much of a response body is buffered.
const maxBodyBytes = 10 << 20

// cacheName labels the response cache in metrics.
const cacheName = "responses"

// errAttemptTimeout is the cause installed by the per-attempt timeout so an
// expired attempt can be told apart from an explicit abort.
var errAttemptTimeout = errors.New("tangguh: attempt timeout")

// Client is a resilient HTTP API client. Every call flows through one
// pipeline: request interceptors, the response cache, in-flight coalescing,
// the retry loop with exponential backoff, automatic token refresh on 401,
// and response or error interceptors on the way out.
//
// A Client is safe for concurrent use. Configuration lives in an immutable
// snapshot swapped atomically by SetConfig, so in-flight calls always see a
// consistent view.
type Client struct {
	// cfg is the staging configuration options mutate during New. The live
	// snapshot lives in config and cfg is never consulted afterwards.
	cfg Config

	config   atomic.Pointer[Config]
	configMu sync.Mutex

	httpClient *http.Client
	marshal    Marshaler
	unmarshal  Unmarshaler

	retryPolicy RetryPolicy
	retryBudget *RetryBudget

	cache          Cache
	cacheKeyFunc   CacheKeyFunc
	cacheCondition CacheCondition
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	cacheEvictions atomic.Uint64
	cacheSweeps    atomic.Uint64

	dedup          *dedupRegistry
	dedupCondition DeduplicationCondition

	aborts *abortRegistry

	auth      *authManager
	credStore CredentialStore
	refreshFn RefreshFunc

	interceptors interceptors
	middleware   []Middleware

	throttle   *rate.Limiter
	breaker    *breaker
	breakerCfg *BreakerConfig

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// New builds a Client from the production defaults and the given options.
// The configuration is validated before the client is returned.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		cfg:        DefaultConfig(),
		httpClient: &http.Client{},
		marshal:    defaultMarshaler(),
		unmarshal:  defaultUnmarshaler(),
		dedup:      newDedupRegistry(),
		aborts:     newAbortRegistry(),
	}

	for _, opt := range opts {
		opt(c)
	}

	snapshot := c.cfg.clone()
	c.config.Store(&snapshot)

	if c.cache == nil {
		c.cache = NewInMemoryCache()
	}
	if c.cacheCondition == nil {
		c.cacheCondition = DefaultCacheCondition
	}
	if c.dedupCondition == nil {
		c.dedupCondition = DefaultDeduplicationCondition
	}
	if c.debug == nil {
		c.debug = DefaultDebugConfig()
	}
	if c.logger == nil && c.debug.Enabled {
		c.logger = NewLeveledLogger(snapshot.LogLevel)
	}

	c.auth = newAuthManager(c.credStore)
	c.auth.logger = c.logger
	if c.refreshFn != nil {
		c.auth.refreshFn = c.refreshFn
	} else {
		c.auth.refreshFn = c.defaultRefresh
	}
	if err := c.auth.restore(); err != nil {
		return nil, fmt.Errorf("restore credentials: %w", err)
	}

	if c.breakerCfg != nil {
		c.breaker = newBreaker(*c.breakerCfg, c.onBreakerState)
	}

	if err := c.ValidateConfiguration(); err != nil {
		return nil, err
	}

	c.startSweeper(snapshot.Cache.SweepInterval)
	return c, nil
}

// Execute runs one request through the full pipeline and returns the settled
// response. The returned Response is non-nil only when err is nil.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "request is nil", Timestamp: time.Now()}
	}
	if err := req.validate(); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error(), Method: req.Method, URL: req.Path, Timestamp: time.Now()}
	}

	cfg := *c.config.Load()

	// Work on a copy so interceptor rewrites never leak into the caller's
	// descriptor.
	req = req.Clone()
	if req.ID == "" {
		req.ID = c.nextRequestID()
	}

	req, err := c.runRequestInterceptors(ctx, req)
	if err != nil {
		return c.settleError(ctx, req, c.asError(err, CodeInternal, "request interceptor failed", req))
	}

	u, err := req.resolveURL(cfg.BaseURL)
	if err != nil {
		return c.settleError(ctx, req, &Error{
			Code: CodeInvalidInput, Message: "resolve url: " + err.Error(),
			RequestID: req.ID, Method: req.Method, URL: req.Path,
			Timestamp: time.Now(), Cause: err,
		})
	}
	endpoint := endpointLabel(u)

	// Register the cancellation handle for the whole call, retries included.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.aborts.register(req.ID, cancel)
	defer c.aborts.remove(req.ID)

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("request start", "request_id", req.ID, "method", req.Method, "url", u.String())
	}

	// Proactive refresh: a token known to lapse within the window would only
	// buy us a guaranteed 401 round trip.
	if !cfg.Auth.DisableAutoRefresh && cfg.Auth.EarlyRefreshWindow > 0 && c.auth.canRefresh() &&
		tokenExpiresWithin(c.auth.accessToken(), cfg.Auth.EarlyRefreshWindow) {
		if _, rerr := c.auth.refreshAccessToken(ctx, cfg.Timeout); rerr != nil {
			c.metrics.RecordTokenRefresh("early_failure")
			if c.debugEnabled(c.debug.LogAuth) {
				c.logger.Warn("proactive token refresh failed", "request_id", req.ID, "error", rerr.Error())
			}
			if errors.Is(rerr, context.Canceled) || IsCancellation(rerr) {
				return c.settleError(ctx, req, c.classify(ctx, req, u, endpoint, rerr, 1, 1, 0))
			}
			// The reactive 401 path still stands; carry on.
		} else {
			c.metrics.RecordTokenRefresh("early")
		}
	}

	cacheable := !cfg.Cache.Disabled && !req.CacheDisabled && c.cacheCondition(req)
	dedupable := !req.DedupDisabled && c.dedupCondition(req)

	var key string
	if cacheable || dedupable {
		key, err = c.requestKey(req)
		if err != nil {
			return c.settleError(ctx, req, &Error{
				Code: CodeInvalidInput, Message: "encode request body: " + err.Error(),
				RequestID: req.ID, Method: req.Method, URL: u.String(),
				Timestamp: time.Now(), Cause: err,
			})
		}
	}

	if cacheable {
		if entry, ok := c.cache.Get(key); ok {
			c.cacheHits.Add(1)
			c.metrics.RecordCacheHit(req.Method, endpoint)
			if c.debugEnabled(c.debug.LogCache) {
				c.logger.Debug("cache hit", "request_id", req.ID, "key", key)
			}
			return cachedCopy(entry.Response, req.ID), nil
		}
		c.cacheMisses.Add(1)
		c.metrics.RecordCacheMiss(req.Method, endpoint)
	}

	var call *inflightCall
	owner := true
	if dedupable {
		call, owner = c.dedup.acquire(key)
		if !owner {
			c.metrics.RecordDedupHit(req.Method, endpoint)
			if c.debugEnabled(c.debug.LogDedup) {
				c.logger.Debug("joining in-flight request", "request_id", req.ID, "key", key)
			}
			resp, werr := call.wait(ctx)
			if werr != nil && ctx.Err() != nil && errors.Is(werr, context.Cause(ctx)) {
				// Our own context died while waiting; the shared call may
				// still settle for everyone else.
				werr = c.classify(ctx, req, u, endpoint, werr, 0, 0, 0)
			}
			return resp, werr
		}
	}

	resp, err := c.settle(ctx, cfg, req, u, endpoint, key, cacheable)
	if owner && call != nil {
		c.dedup.complete(key, resp, err)
	}
	return resp, err
}

// settle dispatches the request and runs the outbound interceptor chains,
// storing cacheable results on the way out.
func (c *Client) settle(ctx context.Context, cfg Config, req *Request, u *url.URL, endpoint, key string, cacheable bool) (*Response, error) {
	resp, err := c.dispatchWithAuth(ctx, cfg, req, u, endpoint)

	if err == nil {
		resp, err = c.runResponseInterceptors(ctx, resp)
		if err != nil {
			err = c.asError(err, CodeInternal, "response interceptor failed", req)
		}
	}
	if err != nil {
		resp, err = c.settleError(ctx, req, err)
		if err != nil {
			return nil, err
		}
	}

	if cacheable && resp != nil && !resp.FromCache && resp.StatusCode < http.StatusBadRequest {
		ttl := cfg.Cache.TTL
		if req.CacheTTL > 0 {
			ttl = req.CacheTTL
		}
		if ttl > 0 {
			c.cache.Set(key, &CacheEntry{Response: resp}, ttl)
			c.metrics.RecordCacheSize(cacheName, c.cache.Len())
			if c.debugEnabled(c.debug.LogCache) {
				c.logger.Debug("cache store", "request_id", req.ID, "key", key, "ttl", ttl.String())
			}
		}
	}
	return resp, nil
}

// settleError runs the error interceptor chain. An interceptor may recover by
// returning a synthetic response; otherwise the possibly rewritten error is
// surfaced.
func (c *Client) settleError(ctx context.Context, req *Request, err error) (*Response, error) {
	resp, ierr := c.runErrorInterceptors(ctx, req, err)
	if resp != nil && ierr == nil {
		return resp, nil
	}
	return nil, ierr
}

// dispatchWithAuth dispatches once and, on a 401 with a refresh token in
// hand, refreshes and re-dispatches exactly once. A refresh failure clears
// the session and surfaces the original 401.
func (c *Client) dispatchWithAuth(ctx context.Context, cfg Config, req *Request, u *url.URL, endpoint string) (*Response, error) {
	resp, err := c.dispatch(ctx, cfg, req, u, endpoint, c.auth.accessToken())
	if err == nil {
		return resp, nil
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return nil, err
	}
	if cfg.Auth.DisableAutoRefresh || !c.auth.canRefresh() {
		return nil, err
	}

	if c.debugEnabled(c.debug.LogAuth) {
		c.logger.Debug("access token rejected, refreshing", "request_id", req.ID)
	}

	token, rerr := c.auth.refreshAccessToken(ctx, cfg.Timeout)
	if rerr != nil {
		c.metrics.RecordTokenRefresh("failure")
		if c.debugEnabled(c.debug.LogAuth) {
			c.logger.Warn("token refresh failed, session cleared", "request_id", req.ID, "error", rerr.Error())
		}
		// Only the caller's own cancellation or deadline preempts the wait.
		// A refresh that itself errors or times out is an ordinary refresh
		// failure: the session is gone, and the original 401 is what the
		// caller can act on.
		if ctx.Err() != nil {
			return nil, c.classify(ctx, req, u, endpoint, rerr, 1, 1, 0)
		}
		return nil, err
	}

	c.metrics.RecordTokenRefresh("success")
	if c.debugEnabled(c.debug.LogAuth) {
		c.logger.Debug("token refreshed, replaying request", "request_id", req.ID)
	}
	// One replay only. A second 401 means the new token is no good either,
	// and that surfaces as-is.
	return c.dispatch(ctx, cfg, req, u, endpoint, token)
}

// dispatch runs the retry loop for one authorization state.
func (c *Client) dispatch(ctx context.Context, cfg Config, req *Request, u *url.URL, endpoint, accessToken string) (*Response, error) {
	attempts := cfg.Retry.Attempts
	if req.Attempts != 0 {
		attempts = req.Attempts
	}
	if attempts < 1 {
		// NoRetry and an unset count both mean a single try.
		attempts = 1
	}

	policy := c.retryPolicy
	if policy == nil {
		policy = &DefaultRetryPolicy{
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Multiplier: cfg.Retry.Multiplier,
			Jitter:     cfg.Retry.Jitter,
		}
	}

	body, contentType, err := req.bodyBytes(c.marshal)
	if err != nil {
		return nil, &Error{
			Code: CodeInvalidInput, Message: "encode request body: " + err.Error(),
			RequestID: req.ID, Method: req.Method, URL: u.String(),
			MaxAttempts: attempts, Timestamp: time.Now(), Cause: err,
		}
	}

	timeout := cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry(req.Method, endpoint, attempt)
		}

		resp, raw, err := c.attempt(ctx, cfg, req, u, endpoint, accessToken, body, contentType, timeout, attempt, attempts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsCancellation(err) {
			return nil, err
		}
		if attempt+1 >= attempts {
			break
		}

		// The policy sees the raw response for HTTP failures and the error
		// only when the transport itself failed.
		var transportErr error
		if raw == nil {
			transportErr = err
		}
		delay, retry := policy.ShouldRetry(raw, transportErr, attempt, attempts)
		if !retry {
			break
		}

		if c.retryBudget != nil && !c.retryBudget.Allow() {
			c.metrics.RecordRetryBudgetExceeded(u.Host)
			if c.debugEnabled(c.debug.LogRetries) {
				c.logger.Warn("retry budget exhausted", "request_id", req.ID, "host", u.Host)
			}
			return nil, withBudgetExceeded(lastErr)
		}

		if c.debugEnabled(c.debug.LogRetries) {
			c.logger.Debug("retrying", "request_id", req.ID, "attempt", attempt+1, "delay", delay.String())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, c.classify(ctx, req, u, endpoint, context.Cause(ctx), attempt+1, attempts, 0)
		}
	}
	return nil, lastErr
}

// attempt performs a single network try. It returns the raw *http.Response
// (body already consumed) alongside any failure so the retry policy can
// inspect status and headers.
func (c *Client) attempt(ctx context.Context, cfg Config, req *Request, u *url.URL, endpoint, accessToken string, body []byte, contentType string, timeout time.Duration, attempt, attempts int) (*Response, *http.Response, error) {
	start := time.Now()

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeoutCause(ctx, timeout, errAttemptTimeout)
		defer cancel()
	}

	if c.throttle != nil {
		if err := c.throttle.Wait(attemptCtx); err != nil {
			return nil, nil, c.classify(attemptCtx, req, u, endpoint, err, attempt+1, attempts, time.Since(start))
		}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	hr, err := http.NewRequestWithContext(attemptCtx, req.Method, u.String(), reader)
	if err != nil {
		return nil, nil, &Error{
			Code: CodeInvalidInput, Message: "build request: " + err.Error(),
			RequestID: req.ID, Method: req.Method, URL: u.String(),
			Attempt: attempt + 1, MaxAttempts: attempts, Timestamp: time.Now(), Cause: err,
		}
	}

	for k, v := range cfg.Headers {
		hr.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		hr.Header.Del(k)
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if contentType != "" && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", contentType)
	}
	if hr.Header.Get("Accept") == "" {
		hr.Header.Set("Accept", contentTypeJSON)
	}
	if hr.Header.Get("User-Agent") == "" {
		hr.Header.Set("User-Agent", userAgent)
	}
	if accessToken != "" && hr.Header.Get("Authorization") == "" {
		if cfg.Auth.HeaderPrefix != "" {
			hr.Header.Set("Authorization", cfg.Auth.HeaderPrefix+" "+accessToken)
		} else {
			hr.Header.Set("Authorization", accessToken)
		}
	}
	hr.Header.Set("X-Request-ID", req.ID)

	c.metrics.RecordRequestStart(req.Method, endpoint)
	defer c.metrics.RecordRequestEnd(req.Method, endpoint)

	hres, err := c.transport(hr)
	duration := time.Since(start)
	if err != nil {
		return nil, nil, c.classify(attemptCtx, req, u, endpoint, err, attempt+1, attempts, duration)
	}
	defer func() { _ = hres.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(hres.Body, maxBodyBytes+1))
	if err != nil {
		return nil, hres, c.classify(attemptCtx, req, u, endpoint, err, attempt+1, attempts, time.Since(start))
	}
	if len(raw) > maxBodyBytes {
		return nil, hres, &Error{
			Code: CodeInternal, Message: fmt.Sprintf("response body exceeds %d bytes", maxBodyBytes),
			StatusCode: hres.StatusCode, RequestID: req.ID, Method: req.Method, URL: u.String(),
			Attempt: attempt + 1, MaxAttempts: attempts, Timestamp: time.Now(), Duration: duration,
		}
	}

	c.metrics.RecordRequest(req.Method, endpoint, hres.StatusCode, duration)

	if hres.StatusCode >= http.StatusBadRequest {
		message, details := parseErrorBody(raw)
		if message == "" {
			message = http.StatusText(hres.StatusCode)
		}
		apiErr := &Error{
			Code:        codeForStatus(hres.StatusCode),
			Message:     message,
			Details:     details,
			StatusCode:  hres.StatusCode,
			RequestID:   req.ID,
			Method:      req.Method,
			URL:         u.String(),
			Attempt:     attempt + 1,
			MaxAttempts: attempts,
			Timestamp:   time.Now(),
			Duration:    duration,
		}
		c.metrics.RecordError(apiErr.Code, req.Method, endpoint)
		if c.debugEnabled(c.debug.LogRequests) {
			c.logger.Debug("request failed", "request_id", req.ID, "status", hres.StatusCode, "code", string(apiErr.Code))
		}
		return nil, hres, apiErr
	}

	resp := &Response{
		Success:     true,
		StatusCode:  hres.StatusCode,
		Header:      hres.Header.Clone(),
		Body:        raw,
		ContentType: hres.Header.Get("Content-Type"),
		RequestID:   req.ID,
		Attempts:    attempt + 1,
		Duration:    duration,
		Timestamp:   time.Now(),
		unmarshal:   c.unmarshal,
	}
	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("request done", "request_id", req.ID, "status", hres.StatusCode, "duration", duration.String())
	}
	return resp, hres, nil
}

// transport sends the request through the circuit breaker and the middleware
// chain, ending at the HTTP client.
func (c *Client) transport(hr *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.executeMiddleware(hr)
	}
	return c.breaker.execute(func() (*http.Response, error) {
		return c.executeMiddleware(hr)
	})
}

// executeMiddleware runs the middleware chain in registration order.
func (c *Client) executeMiddleware(hr *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(hr)
	}

	var run func(i int, r *http.Request) (*http.Response, error)
	run = func(i int, r *http.Request) (*http.Response, error) {
		if i >= len(c.middleware) {
			return c.httpClient.Do(r)
		}
		next := RoundTripperFunc(func(rr *http.Request) (*http.Response, error) {
			return run(i+1, rr)
		})
		return c.middleware[i](r, next)
	}
	return run(0, hr)
}

// classify turns a transport-level failure into a typed Error. The attempt
// context cause distinguishes our per-attempt timeout from an abort.
func (c *Client) classify(ctx context.Context, req *Request, u *url.URL, endpoint string, cause error, attempt, attempts int, duration time.Duration) *Error {
	code := CodeNetwork
	message := "network error"

	if cc := context.Cause(ctx); cc != nil {
		if errors.Is(cc, errAttemptTimeout) {
			code, message = CodeTimeout, "request timed out"
		} else {
			code, message = CodeCancelled, "request cancelled"
			if cause == nil || errors.Is(cause, context.Canceled) {
				cause = cc
			}
		}
	} else {
		switch {
		case errors.Is(cause, context.DeadlineExceeded):
			code, message = CodeTimeout, "request timed out"
		case errors.Is(cause, context.Canceled), errors.Is(cause, ErrRequestCancelled):
			code, message = CodeCancelled, "request cancelled"
		case errors.Is(cause, ErrCircuitOpen):
			code, message = CodeUnavailable, "circuit breaker open"
		default:
			var nerr net.Error
			if errors.As(cause, &nerr) && nerr.Timeout() {
				code, message = CodeTimeout, "request timed out"
			}
		}
	}

	apiErr := &Error{
		Code:        code,
		Message:     message,
		RequestID:   req.ID,
		Method:      req.Method,
		URL:         u.String(),
		Attempt:     attempt,
		MaxAttempts: attempts,
		Timestamp:   time.Now(),
		Duration:    duration,
		Cause:       cause,
	}
	c.metrics.RecordError(code, req.Method, endpoint)
	if code == CodeCancelled {
		c.metrics.RecordCancellation("context")
		if c.debugEnabled(c.debug.LogCancel) {
			c.logger.Debug("request cancelled", "request_id", req.ID)
		}
	}
	return apiErr
}

// asError passes typed errors through and wraps everything else.
func (c *Client) asError(err error, code ErrorCode, msg string, req *Request) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	return &Error{
		Code: code, Message: msg, RequestID: req.ID, Method: req.Method,
		URL: req.Path, Timestamp: time.Now(), Cause: err,
	}
}

// withBudgetExceeded tags the surfaced error so callers can detect that the
// retry loop stopped on the budget rather than on the failure itself.
func withBudgetExceeded(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		cp := *apiErr
		if cp.Cause != nil {
			cp.Cause = errors.Join(cp.Cause, ErrRetryBudgetExceeded)
		} else {
			cp.Cause = ErrRetryBudgetExceeded
		}
		return &cp
	}
	return errors.Join(err, ErrRetryBudgetExceeded)
}

// requestKey derives the cache and coalescing key for req.
func (c *Client) requestKey(req *Request) (string, error) {
	if c.cacheKeyFunc != nil {
		return c.cacheKeyFunc(req), nil
	}
	return req.Fingerprint(c.marshal)
}

// cachedCopy returns a shallow copy marked as served from cache. The body is
// shared and treated as immutable.
func cachedCopy(r *Response, requestID string) *Response {
	cp := *r
	cp.FromCache = true
	cp.RequestID = requestID
	return &cp
}

func (c *Client) nextRequestID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return defaultRequestID()
}

func (c *Client) onBreakerState(name string, state float64) {
	c.metrics.RecordBreakerState(name, state)
	if c.logger != nil {
		c.logger.Warn("circuit breaker state changed", "breaker", name, "state", state)
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, NewRequest(http.MethodGet, path, opts...))
}

// Post issues a POST request with body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	opts = append([]RequestOption{WithBody(body)}, opts...)
	return c.Execute(ctx, NewRequest(http.MethodPost, path, opts...))
}

// Put issues a PUT request with body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	opts = append([]RequestOption{WithBody(body)}, opts...)
	return c.Execute(ctx, NewRequest(http.MethodPut, path, opts...))
}

// Patch issues a PATCH request with body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	opts = append([]RequestOption{WithBody(body)}, opts...)
	return c.Execute(ctx, NewRequest(http.MethodPatch, path, opts...))
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Execute(ctx, NewRequest(http.MethodDelete, path, opts...))
}

// GetJSON issues a GET request and decodes the response data into out,
// unwrapping the {success, data} envelope when present.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	resp, err := c.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}

// PostJSON issues a POST request and decodes the response data into out,
// unwrapping the {success, data} envelope when present.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	resp, err := c.Post(ctx, path, body, opts...)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}

// GetAs issues a GET request and decodes the response data into T.
func GetAs[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	var out T
	resp, err := c.Get(ctx, path, opts...)
	if err != nil {
		return out, err
	}
	err = resp.DecodeData(&out)
	return out, err
}

// PostAs issues a POST request and decodes the response data into T.
func PostAs[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	var out T
	resp, err := c.Post(ctx, path, body, opts...)
	if err != nil {
		return out, err
	}
	err = resp.DecodeData(&out)
	return out, err
}

// SetAuthToken installs the session tokens. An empty refresh token keeps the
// current one, so handing out a rotated access token alone is safe.
func (c *Client) SetAuthToken(access, refresh string) error {
	if err := c.auth.setTokens(access, refresh); err != nil {
		return err
	}
	if c.debugEnabled(c.debug.LogAuth) {
		c.logger.Debug("auth tokens set")
	}
	return nil
}

// ClearAuthToken drops the session from memory and the credential store.
func (c *Client) ClearAuthToken() error {
	if err := c.auth.clear(); err != nil {
		return err
	}
	if c.debugEnabled(c.debug.LogAuth) {
		c.logger.Debug("auth tokens cleared")
	}
	return nil
}

// CancelRequest aborts the in-flight request registered under id. It reports
// whether such a request existed; unknown ids are a no-op.
func (c *Client) CancelRequest(id string) bool {
	ok := c.aborts.cancel(id, ErrRequestCancelled)
	if ok {
		c.metrics.RecordCancellation("manual")
		if c.debugEnabled(c.debug.LogCancel) {
			c.logger.Debug("request aborted", "request_id", id)
		}
	}
	return ok
}

// CancelAllRequests aborts every in-flight request and returns how many were
// cancelled.
func (c *Client) CancelAllRequests() int {
	n := c.aborts.cancelAll(ErrRequestCancelled)
	if n > 0 {
		c.metrics.RecordCancellation("all")
		if c.debugEnabled(c.debug.LogCancel) {
			c.logger.Debug("all requests aborted", "count", n)
		}
	}
	return n
}

// InflightRequests reports how many calls are currently cancellable.
func (c *Client) InflightRequests() int {
	return c.aborts.len()
}

// GetConfig returns a copy of the live configuration snapshot.
func (c *Client) GetConfig() Config {
	return c.config.Load().clone()
}

// SetConfig overlays patch onto the live configuration and swaps the result
// in atomically. Zero-valued top-level sections inherit the current values
// and Headers merge key-by-key; see Config.merged. Calls already in flight
// finish under the snapshot they started with. The sweep interval is fixed
// at construction.
func (c *Client) SetConfig(patch Config) error {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	next := patch.merged(*c.config.Load())
	if problems := validateConfig(next); len(problems) > 0 {
		return &Error{
			Code:      CodeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", problems),
			Timestamp: time.Now(),
		}
	}
	c.config.Store(&next)

	if c.debugEnabled(c.debug.LogRequests) {
		c.logger.Debug("configuration updated", "environment", next.Environment)
	}
	return nil
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
	c.metrics.RecordCacheSize(cacheName, 0)
	if c.debugEnabled(c.debug.LogCache) {
		c.logger.Debug("cache cleared")
	}
}

// CacheStats reports cache effectiveness counters for this client.
func (c *Client) CacheStats() CacheStats {
	return CacheStats{
		Entries:   c.cache.Len(),
		Hits:      c.cacheHits.Load(),
		Misses:    c.cacheMisses.Load(),
		Evictions: c.cacheEvictions.Load(),
		Sweeps:    c.cacheSweeps.Load(),
	}
}

// startSweeper begins the periodic cache sweep. A non-positive interval
// disables sweeping; lazy eviction on read still applies.
func (c *Client) startSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.sweepStop = make(chan struct{})
	c.sweepDone = make(chan struct{})

	go func() {
		defer close(c.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := c.cache.DeleteExpired()
				c.cacheSweeps.Add(1)
				if removed > 0 {
					c.cacheEvictions.Add(uint64(removed))
					c.metrics.RecordCacheEvictions(cacheName, removed)
				}
				c.metrics.RecordCacheSize(cacheName, c.cache.Len())
			case <-c.sweepStop:
				return
			}
		}
	}()
}

// Close aborts in-flight requests, stops the cache sweeper and releases idle
// connections. The client must not be used afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.aborts.cancelAll(ErrRequestCancelled)
		if c.sweepStop != nil {
			close(c.sweepStop)
			<-c.sweepDone
		}
		c.httpClient.CloseIdleConnections()
	})
}

var (
	defaultClient   *Client
	defaultClientMu sync.RWMutex
)

// Default returns the process-wide client, building it lazily with default
// options. Most programs should construct their own Client instead; the
// default exists for quick scripts and package-level convenience.
func Default() *Client {
	defaultClientMu.RLock()
	d := defaultClient
	defaultClientMu.RUnlock()
	if d != nil {
		return d
	}

	defaultClientMu.Lock()
	defer defaultClientMu.Unlock()
	if defaultClient == nil {
		d, err := New()
		if err != nil {
			// New with no options validates the built-in defaults; this
			// cannot fail short of a programming error.
			panic("tangguh: default client: " + err.Error())
		}
		defaultClient = d
	}
	return defaultClient
}

// SetDefault replaces the process-wide client.
func SetDefault(c *Client) {
	defaultClientMu.Lock()
	defaultClient = c
	defaultClientMu.Unlock()
}
