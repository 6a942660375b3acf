package tangguh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"zero attempts", []Option{WithRetryAttempts(0)}, "retry attempts must not be zero"},
		{"negative timeout", []Option{WithTimeout(-time.Second)}, "timeout must be positive"},
		{"relative base URL", []Option{WithBaseURL("api.example.com/v1")}, "must be absolute"},
		{"zero base delay", []Option{WithBackoff(0, time.Second, 2.0)}, "base delay must be positive"},
		{"max below base", []Option{WithBackoff(time.Second, time.Millisecond, 2.0)}, "max delay must be greater"},
		{"zero multiplier", []Option{WithBackoff(time.Millisecond, time.Second, 0)}, "multiplier must be positive"},
		{"nil HTTP client", []Option{WithHTTPClient(nil)}, "HTTP client cannot be nil"},
		{"nil middleware", []Option{WithMiddleware(nil)}, "middleware[0] cannot be nil"},
		{"nil request interceptor", []Option{WithRequestInterceptor(nil)}, "request interceptor[0] cannot be nil"},
		{"debug without id generator", []Option{WithDebugConfig(&DebugConfig{Enabled: true})}, "RequestIDGen must be set"},
		{"excessive attempts", []Option{WithRetryAttempts(101)}, "attempts > 100"},
		{"excessive timeout", []Option{WithTimeout(11 * time.Minute)}, "timeout > 10m"},
		{"excessive cache TTL", []Option{WithCache(25 * time.Hour)}, "TTL > 24h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			if err == nil {
				t.Fatal("Expected New to reject the configuration")
			}
			apiErr := asAPIError(t, err)
			if apiErr.Code != CodeValidation {
				t.Errorf("Expected VALIDATION_ERROR, got %s", apiErr.Code)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected the problem named (%q), got %v", tt.want, err)
			}
		})
	}
}

func TestValidationAggregatesEveryProblem(t *testing.T) {
	_, err := New(
		WithRetryAttempts(0),
		WithTimeout(-time.Second),
		WithBaseURL("nope"),
	)
	if err == nil {
		t.Fatal("Expected New to reject the configuration")
	}
	for _, want := range []string{"retry attempts", "timeout must be positive", "base URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected all problems reported, missing %q in %v", want, err)
		}
	}
}

func TestOptionOrderMatters(t *testing.T) {
	// WithEnvironment replaces the whole configuration, so it belongs first.
	client, err := New(WithEnvironment(EnvTest), WithTimeout(9*time.Second))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer client.Close()
	if got := client.GetConfig().Timeout; got != 9*time.Second {
		t.Errorf("Expected the later option to win, got %v", got)
	}

	reversed, err := New(WithTimeout(9*time.Second), WithEnvironment(EnvTest))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer reversed.Close()
	if got := reversed.GetConfig().Timeout; got != 5*time.Second {
		t.Errorf("Expected the preset to replace earlier tuning, got %v", got)
	}
}

func TestWithJitterClamps(t *testing.T) {
	client, err := New(WithEnvironment(EnvTest), WithJitter(1.5))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer client.Close()
	if got := client.GetConfig().Retry.Jitter; got != 1 {
		t.Errorf("Expected jitter clamped to 1, got %v", got)
	}

	client2, err := New(WithEnvironment(EnvTest), WithJitter(-0.3))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer client2.Close()
	if got := client2.GetConfig().Retry.Jitter; got != 0 {
		t.Errorf("Expected jitter clamped to 0, got %v", got)
	}
}

func TestWithNoRetriesForcesSingleTry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithNoRetries())
	if _, err := client.Get(context.Background(), "/x"); err == nil {
		t.Fatal("Expected an error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected a single try, got %d", got)
	}
}

func TestWithDefaultHeadersAccumulate(t *testing.T) {
	client, err := New(
		WithEnvironment(EnvTest),
		WithDefaultHeaders(map[string]string{"X-App": "sked", "X-Version": "1"}),
		WithDefaultHeader("X-Version", "2"),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer client.Close()

	headers := client.GetConfig().Headers
	if headers["X-App"] != "sked" || headers["X-Version"] != "2" {
		t.Errorf("Expected accumulated headers with later values winning, got %v", headers)
	}
}

func TestWithThrottleSpacesAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	// 20 requests per second with no burst headroom leaves 50ms between
	// attempts.
	client := newTestClient(t, server.URL, WithThrottle(20, 1))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Get(ctx, "/x", WithNoCache(), WithNoDedup()); err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Expected the throttle to space 3 calls over ~100ms, took %v", elapsed)
	}
}

func TestWithMarshalerAndUnmarshalerAreUsed(t *testing.T) {
	var marshals, unmarshals atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"success":true,"data":{"ok":true}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithMarshaler(func(v any) ([]byte, error) {
			marshals.Add(1)
			return defaultMarshaler()(v)
		}),
		WithUnmarshaler(func(data []byte, v any) error {
			unmarshals.Add(1)
			return defaultUnmarshaler()(data, v)
		}),
	)

	var out map[string]bool
	if err := client.PostJSON(context.Background(), "/x", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("PostJSON() returned error: %v", err)
	}
	if marshals.Load() == 0 {
		t.Error("Expected the custom marshaler used for the request body")
	}
	if unmarshals.Load() == 0 {
		t.Error("Expected the custom unmarshaler used for the response body")
	}
	if !out["ok"] {
		t.Errorf("Expected the decoded payload, got %v", out)
	}
}

func TestWithRequestIDGeneratorControlsWireIDs(t *testing.T) {
	var seen atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("X-Request-ID"))
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	var n atomic.Int64
	client := newTestClient(t, server.URL, WithRequestIDGenerator(func() string {
		return fmt.Sprintf("gen-%d", n.Add(1))
	}))
	resp, err := client.Get(context.Background(), "/x")
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if got := seen.Load(); got != "gen-1" {
		t.Errorf("Expected the generated id on the wire, got %v", got)
	}
	if resp.RequestID != "gen-1" {
		t.Errorf("Expected the generated id on the response, got %q", resp.RequestID)
	}
}

type recordingCache struct {
	inner Cache
	gets  atomic.Int64
	sets  atomic.Int64
}

func (r *recordingCache) Get(key string) (*CacheEntry, bool) {
	r.gets.Add(1)
	return r.inner.Get(key)
}
func (r *recordingCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	r.sets.Add(1)
	r.inner.Set(key, entry, ttl)
}
func (r *recordingCache) Delete(key string)  { r.inner.Delete(key) }
func (r *recordingCache) Clear()             { r.inner.Clear() }
func (r *recordingCache) Len() int           { return r.inner.Len() }
func (r *recordingCache) DeleteExpired() int { return r.inner.DeleteExpired() }

func TestWithCustomCacheIsConsulted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	rec := &recordingCache{inner: NewInMemoryCache()}
	client := newTestClient(t, server.URL, WithCache(time.Minute), WithCustomCache(rec))

	ctx := context.Background()
	if _, err := client.Get(ctx, "/x"); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if _, err := client.Get(ctx, "/x"); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if rec.gets.Load() < 2 {
		t.Errorf("Expected the custom cache consulted per call, got %d gets", rec.gets.Load())
	}
	if rec.sets.Load() != 1 {
		t.Errorf("Expected exactly 1 store, got %d", rec.sets.Load())
	}
}

func TestWithCacheConditionGatesStorage(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	never := func(req *Request) bool { return false }
	client := newTestClient(t, server.URL, WithCache(time.Minute), WithCacheCondition(never))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, "/x", WithNoDedup()); err != nil {
			t.Fatalf("Get() returned error: %v", err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected the condition to veto caching, got %d calls", got)
	}
}
