package tangguh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// endpointFor computes the metrics endpoint label for a test server path.
func endpointFor(t *testing.T, serverURL, path string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	return u.Host + path
}

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.requestsTotal == nil {
		t.Error("requestsTotal metric not initialized")
	}
	if collector.requestDuration == nil {
		t.Error("requestDuration metric not initialized")
	}
	if collector.requestsInFlight == nil {
		t.Error("requestsInFlight metric not initialized")
	}
	if collector.retriesTotal == nil {
		t.Error("retriesTotal metric not initialized")
	}
	if collector.tokenRefreshes == nil {
		t.Error("tokenRefreshes metric not initialized")
	}
	if collector.cancellations == nil {
		t.Error("cancellations metric not initialized")
	}
	if collector.breakerState == nil {
		t.Error("breakerState metric not initialized")
	}
	if collector.errorsTotal == nil {
		t.Error("errorsTotal metric not initialized")
	}
	if collector.GetRegistry() != registry {
		t.Error("GetRegistry() returned wrong registry")
	}
}

func TestGetRegistryRequiresConcreteRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	wrapped := NewMetricsCollectorWithRegistry(prometheus.WrapRegistererWithPrefix("app_", registry))

	if wrapped.GetRegistry() != nil {
		t.Error("Expected nil registry from a wrapped registerer")
	}

	var collector *MetricsCollector
	if collector.GetRegistry() != nil {
		t.Error("Expected nil registry from a nil collector")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *MetricsCollector

	// Every record method must tolerate a nil receiver; the pipeline calls
	// them unguarded.
	collector.RecordRequest("GET", "test", 200, time.Second)
	collector.RecordRequestStart("GET", "test")
	collector.RecordRequestEnd("GET", "test")
	collector.RecordRetry("GET", "test", 1)
	collector.RecordRetryBudgetExceeded("test")
	collector.RecordCacheHit("GET", "test")
	collector.RecordCacheMiss("GET", "test")
	collector.RecordCacheSize("test", 5)
	collector.RecordCacheEvictions("test", 2)
	collector.RecordDedupHit("GET", "test")
	collector.RecordTokenRefresh("success")
	collector.RecordCancellation("manual")
	collector.RecordBreakerState("test", 1)
	collector.RecordError(CodeInternal, "GET", "test")
}

func TestRecordRequestCountsPerStatus(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequest("GET", "example.com/api", 200, 150*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api", 200, 90*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api", 503, 10*time.Millisecond)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "example.com/api")); got != 2 {
		t.Errorf("Expected 2 requests counted for status 200, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "503", "example.com/api")); got != 1 {
		t.Errorf("Expected 1 request counted for status 503, got %v", got)
	}
	if got := testutil.CollectAndCount(collector.requestDuration, "tangguh_request_duration_seconds"); got != 2 {
		t.Errorf("Expected 2 duration series, got %d", got)
	}
}

func TestInFlightGaugeBalances(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestEnd("GET", "example.com/api")

	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", "example.com/api")); got != 1 {
		t.Errorf("Expected in-flight gauge 1, got %v", got)
	}
}

func TestCacheEvictionsIgnoreNonPositiveCounts(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordCacheEvictions("responses", 0)
	collector.RecordCacheEvictions("responses", -3)
	if got := testutil.CollectAndCount(collector.cacheEvictions, "tangguh_cache_evictions_total"); got != 0 {
		t.Errorf("Expected no eviction series after non-positive counts, got %d", got)
	}

	collector.RecordCacheEvictions("responses", 3)
	if got := testutil.ToFloat64(collector.cacheEvictions.WithLabelValues("responses")); got != 3 {
		t.Errorf("Expected 3 evictions counted, got %v", got)
	}
}

func TestRetryBudgetExceededKeepsHostOnly(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRetryBudgetExceeded("api.example.com/v1/lessons")
	collector.RecordRetryBudgetExceeded("api.example.com")

	if got := testutil.ToFloat64(collector.retryBudgetExceeded.WithLabelValues("api.example.com")); got != 2 {
		t.Errorf("Expected both refusals on the host label, got %v", got)
	}
}

func TestClientRecordsRequestAndErrorMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound,
			`{"success":false,"error":{"code":"NOT_FOUND","message":"no such lesson"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, WithMetricsCollector(collector))

	if _, err := client.Get(context.Background(), "/ok"); err != nil {
		t.Fatalf("Get(/ok) returned error: %v", err)
	}
	if _, err := client.Get(context.Background(), "/missing"); err == nil {
		t.Fatal("Expected an error for /missing, got nil")
	}

	okEndpoint := endpointFor(t, server.URL, "/ok")
	missingEndpoint := endpointFor(t, server.URL, "/missing")

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", okEndpoint)); got != 1 {
		t.Errorf("Expected 1 settled 200, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "404", missingEndpoint)); got != 1 {
		t.Errorf("Expected 1 settled 404, got %v", got)
	}
	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(string(CodeNotFound), "GET", missingEndpoint)); got != 1 {
		t.Errorf("Expected 1 NOT_FOUND error counted, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", okEndpoint)); got != 0 {
		t.Errorf("Expected in-flight gauge back to 0, got %v", got)
	}
}

func TestClientRecordsCacheMetrics(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusOK, `{"success":true,"data":{"v":1}}`)
	}))
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, WithMetricsCollector(collector), WithCache(time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/lessons"); err != nil {
			t.Fatalf("Get() #%d returned error: %v", i+1, err)
		}
	}

	endpoint := endpointFor(t, server.URL, "/lessons")
	if got := testutil.ToFloat64(collector.cacheMisses.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheHits.WithLabelValues("GET", endpoint)); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cacheSize.WithLabelValues(cacheName)); got != 1 {
		t.Errorf("Expected cache size gauge 1, got %v", got)
	}
	// The hit never reached the network, so only one settle was counted.
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", endpoint)); got != 1 {
		t.Errorf("Expected 1 settled request, got %v", got)
	}

	client.ClearCache()
	if got := testutil.ToFloat64(collector.cacheSize.WithLabelValues(cacheName)); got != 0 {
		t.Errorf("Expected cache size gauge 0 after ClearCache, got %v", got)
	}
}

func TestClientRecordsDedupMetric(t *testing.T) {
	var calls atomic.Int64
	server, release := gateServer(t, &calls, `{"success":true}`)
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, WithMetricsCollector(collector), WithoutCache())

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Get(context.Background(), "/lessons"); err != nil {
				t.Errorf("Get() returned error: %v", err)
			}
		}()
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	endpoint := endpointFor(t, server.URL, "/lessons")
	if got := testutil.ToFloat64(collector.dedupHits.WithLabelValues("GET", endpoint)); got != n-1 {
		t.Errorf("Expected %d coalesced callers counted, got %v", n-1, got)
	}
}

func TestClientRecordsTokenRefreshOutcome(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"access_token":"good","refresh_token":"r2"}`)
	})
	mux.HandleFunc("/lessons", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeJSON(t, w, http.StatusUnauthorized,
				`{"success":false,"error":{"code":"UNAUTHORIZED","message":"token expired"}}`)
			return
		}
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, WithMetricsCollector(collector), WithRefreshPath("/auth/refresh"))
	if err := client.SetAuthToken("stale", "r1"); err != nil {
		t.Fatalf("SetAuthToken() returned error: %v", err)
	}

	if _, err := client.Get(context.Background(), "/lessons"); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful refresh counted, got %v", got)
	}
}

func TestClientRecordsManualCancellation(t *testing.T) {
	var arrived atomic.Int64
	server := httptest.NewServer(hangingHandler(&arrived))
	defer server.Close()

	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := newTestClient(t, server.URL, WithMetricsCollector(collector))

	done := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), "/hang", WithRequestID("metrics-cancel"))
		done <- err
	}()

	waitFor(t, func() bool { return arrived.Load() == 1 })
	if !client.CancelRequest("metrics-cancel") {
		t.Fatal("CancelRequest() found no in-flight request")
	}
	if err := <-done; !IsCancellation(err) {
		t.Fatalf("Expected a cancellation error, got %v", err)
	}

	if got := testutil.ToFloat64(collector.cancellations.WithLabelValues("manual")); got != 1 {
		t.Errorf("Expected 1 manual cancellation counted, got %v", got)
	}
}
