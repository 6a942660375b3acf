package tangguh

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRetriesTransientThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryAttempts(3),
		WithBackoff(5*time.Millisecond, 50*time.Millisecond, 2.0),
	)
	resp, err := client.Get(context.Background(), "/x")
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Expected 3 attempts recorded, got %d", resp.Attempts)
	}
	if calls != 3 {
		t.Errorf("Expected 3 network calls, got %d", calls)
	}
}

func TestNoRetryOnClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var mu sync.Mutex
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				calls++
				mu.Unlock()
				w.WriteHeader(status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL,
				WithRetryAttempts(3),
				WithBackoff(5*time.Millisecond, 50*time.Millisecond, 2.0),
			)
			_, err := client.Get(context.Background(), "/x")
			if err == nil {
				t.Fatal("Expected an error")
			}
			if calls != 1 {
				t.Errorf("Expected a single try for status %d, got %d", status, calls)
			}
		})
	}
}

func TestRetryOn429(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, http.StatusOK, `{"success":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryAttempts(2),
		WithBackoff(5*time.Millisecond, 50*time.Millisecond, 2.0),
	)
	if _, err := client.Get(context.Background(), "/x"); err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected a retry after 429, got %d calls", calls)
	}
}

func TestRetryExhaustionTimingAndLastError(t *testing.T) {
	var mu sync.Mutex
	var hits []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryAttempts(3),
		WithBackoff(100*time.Millisecond, 10*time.Second, 2.0),
		WithJitter(0.1),
	)
	_, err := client.Get(context.Background(), "/x")
	apiErr := asAPIError(t, err)

	if apiErr.Code != CodeUnavailable {
		t.Errorf("Expected the last error surfaced (SERVICE_UNAVAILABLE), got %s", apiErr.Code)
	}
	if apiErr.Attempt != 3 || apiErr.MaxAttempts != 3 {
		t.Errorf("Expected attempt 3/3 on the surfaced error, got %d/%d", apiErr.Attempt, apiErr.MaxAttempts)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 3 {
		t.Fatalf("Expected 3 tries, got %d", len(hits))
	}
	// Delays are base*2^i plus up to 10% jitter: 100ms then 200ms. Generous
	// upper bounds absorb scheduler noise.
	gap1 := hits[1].Sub(hits[0])
	gap2 := hits[2].Sub(hits[1])
	if gap1 < 95*time.Millisecond || gap1 > 180*time.Millisecond {
		t.Errorf("Expected first retry near 100ms, got %v", gap1)
	}
	if gap2 < 190*time.Millisecond || gap2 > 320*time.Millisecond {
		t.Errorf("Expected second retry near 200ms, got %v", gap2)
	}
}

func TestNetworkErrorsRetriedThenSurfaced(t *testing.T) {
	// A server that is immediately closed leaves a port that refuses
	// connections.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := newTestClient(t, deadURL,
		WithRetryAttempts(2),
		WithBackoff(5*time.Millisecond, 50*time.Millisecond, 2.0),
	)
	_, err := client.Get(context.Background(), "/x")
	apiErr := asAPIError(t, err)
	if apiErr.Code != CodeNetwork {
		t.Errorf("Expected NETWORK_ERROR, got %s", apiErr.Code)
	}
	if apiErr.Attempt != 2 || apiErr.MaxAttempts != 2 {
		t.Errorf("Expected both tries consumed, got %d/%d", apiErr.Attempt, apiErr.MaxAttempts)
	}
	if !IsTransient(err) {
		t.Error("Expected a network error to classify as transient")
	}
}

func TestPerRequestAttemptOverrides(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryAttempts(3),
		WithBackoff(time.Millisecond, 10*time.Millisecond, 2.0),
	)
	ctx := context.Background()

	if _, err := client.Get(ctx, "/x", WithNoRetry()); err == nil {
		t.Fatal("Expected an error")
	}
	if calls != 1 {
		t.Errorf("Expected WithNoRetry to force a single try, got %d", calls)
	}

	calls = 0
	if _, err := client.Get(ctx, "/x", WithAttempts(2)); err == nil {
		t.Fatal("Expected an error")
	}
	if calls != 2 {
		t.Errorf("Expected WithAttempts(2) to allow one retry, got %d", calls)
	}
}

func TestRetryBudgetStopsRetryStorm(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryAttempts(4),
		WithBackoff(time.Millisecond, 10*time.Millisecond, 2.0),
		WithRetryBudget(1, time.Minute),
	)
	_, err := client.Get(context.Background(), "/x")
	if err == nil {
		t.Fatal("Expected an error")
	}
	if calls != 2 {
		t.Errorf("Expected 1 try + 1 budgeted retry, got %d calls", calls)
	}
	if !errors.Is(err, ErrRetryBudgetExceeded) {
		t.Errorf("Expected the error to carry ErrRetryBudgetExceeded, got %v", err)
	}
	// The budget annotation keeps the last failure's classification.
	apiErr := asAPIError(t, err)
	if apiErr.Code != CodeInternal {
		t.Errorf("Expected the last error's code, got %s", apiErr.Code)
	}
}

func TestCustomRetryPolicyConsulted(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	never := retryPolicyFunc(func(*http.Response, error, int, int) (time.Duration, bool) {
		return 0, false
	})
	client := newTestClient(t, server.URL, WithRetryAttempts(3), WithRetryPolicy(never))
	if _, err := client.Get(context.Background(), "/x"); err == nil {
		t.Fatal("Expected an error")
	}
	if calls != 1 {
		t.Errorf("Expected the custom policy to stop retries, got %d calls", calls)
	}
}

type retryPolicyFunc func(resp *http.Response, err error, attempt, maxAttempts int) (time.Duration, bool)

func (f retryPolicyFunc) ShouldRetry(resp *http.Response, err error, attempt, maxAttempts int) (time.Duration, bool) {
	return f(resp, err, attempt, maxAttempts)
}

func TestDefaultRetryPolicyDecisions(t *testing.T) {
	policy := NewDefaultRetryPolicy(10*time.Millisecond, time.Second, 2.0, 0)

	httpResp := func(status int, header http.Header) *http.Response {
		if header == nil {
			header = http.Header{}
		}
		return &http.Response{StatusCode: status, Header: header}
	}

	tests := []struct {
		name        string
		resp        *http.Response
		err         error
		attempt     int
		maxAttempts int
		wantRetry   bool
	}{
		{"transport error", nil, &net.OpError{Op: "dial", Err: errors.New("refused")}, 0, 3, true},
		{"server error", httpResp(500, nil), nil, 0, 3, true},
		{"bad gateway", httpResp(502, nil), nil, 0, 3, true},
		{"rate limited", httpResp(429, nil), nil, 0, 3, true},
		{"bad request", httpResp(400, nil), nil, 0, 3, false},
		{"not found", httpResp(404, nil), nil, 0, 3, false},
		{"validation", httpResp(422, nil), nil, 0, 3, false},
		{"cancelled", nil, context.Canceled, 0, 3, false},
		{"budget exhausted", httpResp(500, nil), nil, 2, 3, false},
		{"nothing to judge", nil, nil, 0, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, retry := policy.ShouldRetry(tt.resp, tt.err, tt.attempt, tt.maxAttempts)
			if retry != tt.wantRetry {
				t.Errorf("Expected retry=%v, got %v", tt.wantRetry, retry)
			}
		})
	}
}

func TestDefaultRetryPolicyHonorsRetryAfter(t *testing.T) {
	policy := NewDefaultRetryPolicy(10*time.Millisecond, time.Minute, 2.0, 0)

	header := http.Header{}
	header.Set("Retry-After", "2")
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: header}

	delay, retry := policy.ShouldRetry(resp, nil, 0, 3)
	if !retry {
		t.Fatal("Expected a retry on 429")
	}
	if delay != 2*time.Second {
		t.Errorf("Expected the Retry-After delay, got %v", delay)
	}
}

func TestDefaultRetryPolicyDelayGrowth(t *testing.T) {
	policy := NewDefaultRetryPolicy(100*time.Millisecond, time.Second, 2.0, 0)
	resp := &http.Response{StatusCode: 500, Header: http.Header{}}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for attempt, want := range expected {
		delay, retry := policy.ShouldRetry(resp, nil, attempt, 10)
		if !retry {
			t.Fatalf("Expected retry at attempt %d", attempt)
		}
		if delay != want {
			t.Errorf("attempt %d: expected delay %v, got %v", attempt, want, delay)
		}
	}

	// The cap applies once growth passes MaxDelay.
	delay, _ := policy.ShouldRetry(resp, nil, 5, 10)
	if delay != time.Second {
		t.Errorf("Expected delay capped at 1s, got %v", delay)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "5", 5 * time.Second},
		{"zero seconds", "0", 0},
		{"negative", "-3", 0},
		{"capped at an hour", "7200", time.Hour},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	// HTTP-date values resolve relative to now.
	date := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(date)
	if got < 25*time.Second || got > 30*time.Second {
		t.Errorf("Expected roughly 30s from an HTTP date, got %v", got)
	}
}

func TestRetryBudgetWindowReset(t *testing.T) {
	budget := NewRetryBudget(1, 30*time.Millisecond)

	if !budget.Allow() {
		t.Fatal("Expected the first retry to fit the budget")
	}
	if budget.Allow() {
		t.Fatal("Expected the second retry refused")
	}

	time.Sleep(40 * time.Millisecond)
	if !budget.Allow() {
		t.Error("Expected a fresh window after the reset")
	}

	used, max, _ := budget.Stats()
	if used != 1 || max != 1 {
		t.Errorf("Expected stats 1/1, got %d/%d", used, max)
	}
}
