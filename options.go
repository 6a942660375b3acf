package tangguh

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Client during construction.
type Option func(*Client)

// WithConfig overlays cfg onto the configuration built so far. Sections
// follow the same merge rules as SetConfig.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.cfg = cfg.merged(c.cfg)
	}
}

// WithEnvironment replaces the configuration with the named preset. Apply it
// before options that tune individual settings.
func WithEnvironment(env string) Option {
	return func(c *Client) {
		c.cfg = ConfigForEnvironment(env)
	}
}

// WithBaseURL sets the base URL relative request paths resolve against.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.cfg.BaseURL = u
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.cfg.Timeout = d
	}
}

// WithDefaultHeaders merges headers sent with every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if c.cfg.Headers == nil {
			c.cfg.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.cfg.Headers[k] = v
		}
	}
}

// WithDefaultHeader sets a single header sent with every request.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		if c.cfg.Headers == nil {
			c.cfg.Headers = make(map[string]string, 1)
		}
		c.cfg.Headers[key] = value
	}
}

// WithRetryAttempts sets the total number of tries per request.
func WithRetryAttempts(n int) Option {
	return func(c *Client) {
		c.cfg.Retry.Attempts = n
	}
}

// WithNoRetries disables retries; every request gets a single try.
func WithNoRetries() Option {
	return func(c *Client) {
		c.cfg.Retry.Attempts = NoRetry
	}
}

// WithBackoff sets the exponential backoff parameters.
func WithBackoff(base, max time.Duration, multiplier float64) Option {
	return func(c *Client) {
		c.cfg.Retry.BaseDelay = base
		c.cfg.Retry.MaxDelay = max
		c.cfg.Retry.Multiplier = multiplier
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0).
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.cfg.Retry.Jitter = f
	}
}

// WithCache sets the cache TTL and ensures caching is enabled.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cfg.Cache.Disabled = false
		c.cfg.Cache.TTL = ttl
	}
}

// WithoutCache disables response caching.
func WithoutCache() Option {
	return func(c *Client) {
		c.cfg.Cache.Disabled = true
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithCacheKeyFunc sets a custom cache key function.
func WithCacheKeyFunc(fn CacheKeyFunc) Option {
	return func(c *Client) {
		c.cacheKeyFunc = fn
	}
}

// WithCacheCondition sets a custom cache condition function.
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithDeduplicationCondition sets a custom deduplication condition function.
func WithDeduplicationCondition(fn DeduplicationCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithoutDeduplication disables in-flight request coalescing.
func WithoutDeduplication() Option {
	return func(c *Client) {
		c.dedupCondition = func(*Request) bool { return false }
	}
}

// WithCredentialStore sets where tokens persist between processes.
func WithCredentialStore(store CredentialStore) Option {
	return func(c *Client) {
		c.credStore = store
	}
}

// WithRefreshFunc sets the token refresh callback. Without one the client
// posts the refresh token to the configured refresh path.
func WithRefreshFunc(fn RefreshFunc) Option {
	return func(c *Client) {
		c.refreshFn = fn
	}
}

// WithRefreshPath sets the endpoint the default refresh posts to.
func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.cfg.Auth.RefreshPath = path
	}
}

// WithoutAutoRefresh disables the automatic 401 refresh-and-replay.
func WithoutAutoRefresh() Option {
	return func(c *Client) {
		c.cfg.Auth.DisableAutoRefresh = true
	}
}

// WithRequestInterceptor appends request interceptors, run in order before
// dispatch.
func WithRequestInterceptor(ints ...RequestInterceptor) Option {
	return func(c *Client) {
		c.interceptors.request = append(c.interceptors.request, ints...)
	}
}

// WithResponseInterceptor appends response interceptors, run in order on
// success.
func WithResponseInterceptor(ints ...ResponseInterceptor) Option {
	return func(c *Client) {
		c.interceptors.response = append(c.interceptors.response, ints...)
	}
}

// WithErrorInterceptor appends error interceptors, run in order on failure.
func WithErrorInterceptor(ints ...ErrorInterceptor) Option {
	return func(c *Client) {
		c.interceptors.errs = append(c.interceptors.errs, ints...)
	}
}

// WithMiddleware adds transport middleware wrapping the HTTP round trip.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMarshaler sets the body encoder.
func WithMarshaler(fn Marshaler) Option {
	return func(c *Client) {
		c.marshal = fn
	}
}

// WithUnmarshaler sets the body decoder used by Response.Decode.
func WithUnmarshaler(fn Unmarshaler) Option {
	return func(c *Client) {
		c.unmarshal = fn
	}
}

// WithRetryPolicy sets a custom retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRetryBudget caps retries across all requests within a sliding window.
func WithRetryBudget(max int, window time.Duration) Option {
	return func(c *Client) {
		c.retryBudget = NewRetryBudget(max, window)
	}
}

// WithThrottle rate limits outgoing attempts to rps requests per second
// with the given burst.
func WithThrottle(rps float64, burst int) Option {
	return func(c *Client) {
		c.throttle = newThrottle(rps, burst)
	}
}

// WithCircuitBreaker trips the client open after consecutive upstream
// failures instead of hammering a dead service.
func WithCircuitBreaker(cfg BreakerConfig) Option {
	return func(c *Client) {
		c.breakerCfg = &cfg
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

func newThrottle(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// ValidateConfiguration checks the client configuration and returns an error
// describing every problem found.
func (c *Client) ValidateConfiguration() error {
	errors := validateConfig(c.GetConfig())
	errors = append(errors, c.validateDebugSettings()...)
	errors = append(errors, c.validatePipeline()...)

	if len(errors) > 0 {
		return &Error{
			Code:      CodeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// validateConfig checks the settings that live in the Config snapshot. The
// client-side checks (debug wiring, pipeline entries) are separate because
// SetConfig cannot change those.
func validateConfig(cfg Config) []string {
	var errors []string

	errors = append(errors, validateBaseURL(cfg)...)
	errors = append(errors, validateRetrySettings(cfg)...)
	errors = append(errors, validateCacheSettings(cfg)...)
	errors = append(errors, validateAuthSettings(cfg)...)
	errors = append(errors, validateExtremeValues(cfg)...)

	return errors
}

func validateBaseURL(cfg Config) []string {
	var errors []string

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			errors = append(errors, fmt.Sprintf("base URL is not a valid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			errors = append(errors, "base URL must be absolute with scheme and host")
		}
	}

	return errors
}

func validateRetrySettings(cfg Config) []string {
	var errors []string

	if cfg.Retry.Attempts < NoRetry {
		errors = append(errors, "retry attempts must be at least 1, or NoRetry to disable")
	}
	if cfg.Retry.Attempts == 0 {
		errors = append(errors, "retry attempts must not be zero; use 1 for a single try or NoRetry")
	}
	if cfg.Retry.BaseDelay <= 0 {
		errors = append(errors, "retry base delay must be positive")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		errors = append(errors, "retry max delay must be greater than or equal to base delay")
	}
	if cfg.Retry.Multiplier <= 0 {
		errors = append(errors, "retry multiplier must be positive")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		errors = append(errors, "retry jitter must be between 0 and 1")
	}
	if cfg.Timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	return errors
}

func validateCacheSettings(cfg Config) []string {
	var errors []string

	if !cfg.Cache.Disabled && cfg.Cache.TTL <= 0 {
		errors = append(errors, "cache TTL must be positive when caching is enabled")
	}
	if cfg.Cache.SweepInterval < 0 {
		errors = append(errors, "cache sweep interval must not be negative")
	}

	return errors
}

func validateAuthSettings(cfg Config) []string {
	var errors []string

	if cfg.Auth.EarlyRefreshWindow < 0 {
		errors = append(errors, "early refresh window must not be negative")
	}

	return errors
}

func (c *Client) validateDebugSettings() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

func (c *Client) validatePipeline() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}
	for i, m := range c.middleware {
		if m == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}
	for i, in := range c.interceptors.request {
		if in == nil {
			errors = append(errors, fmt.Sprintf("request interceptor[%d] cannot be nil", i))
		}
	}
	for i, in := range c.interceptors.response {
		if in == nil {
			errors = append(errors, fmt.Sprintf("response interceptor[%d] cannot be nil", i))
		}
	}
	for i, in := range c.interceptors.errs {
		if in == nil {
			errors = append(errors, fmt.Sprintf("error interceptor[%d] cannot be nil", i))
		}
	}

	return errors
}

// validateExtremeValues flags settings that are technically valid but likely
// to cause trouble in production.
func validateExtremeValues(cfg Config) []string {
	var errors []string

	if cfg.Retry.Attempts > 100 {
		errors = append(errors, "retry attempts > 100 may cause excessive resource usage")
	}
	if cfg.Retry.BaseDelay > 10*time.Minute {
		errors = append(errors, "retry base delay > 10m may cause very long delays")
	}
	if cfg.Retry.MaxDelay > time.Hour {
		errors = append(errors, "retry max delay > 1h may cause extremely long delays")
	}
	if cfg.Timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}
	if !cfg.Cache.Disabled && cfg.Cache.TTL > 24*time.Hour {
		errors = append(errors, "cache TTL > 24h may cause stale data issues")
	}

	return errors
}
