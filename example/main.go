// Minimal example for tangguh demonstrating a basic resilient client plus a
// slightly more advanced one showing interceptors, middleware, metrics and
// token refresh. A tiny local API server, guarded by the ratelimit
// collaborator, keeps the example self-contained.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/tangguh"
	"github.com/ambiyansyah-risyal/tangguh/ratelimit"
)

type lesson struct {
	ID      int    `json:"id"`
	Subject string `json:"subject"`
	Room    string `json:"room"`
}

func newAPIServer() *httptest.Server {
	var tokens atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/lessons", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"data":[{"id":1,"subject":"math","room":"B12"},{"id":2,"subject":"physics","room":"A3"}],"timestamp":%q}`,
			time.Now().Format(time.RFC3339))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		n := tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"data":{"access_token":"access-%d","refresh_token":"refresh-%d"}}`, n, n)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"success":false,"error":{"code":"UNAUTHORIZED","message":"token expired"}}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":{"name":"Dewi","role":"scheduler"}}`)
	})

	limited := ratelimit.Middleware(ratelimit.New(100, time.Minute), nil)(mux)
	return httptest.NewServer(limited)
}

func main() {
	server := newAPIServer()
	defer server.Close()
	ctx := context.Background()

	// --- Basic client (batteries-included defaults) ---
	basic, err := tangguh.New(
		tangguh.WithBaseURL(server.URL),
		tangguh.WithRetryAttempts(3),
		tangguh.WithBackoff(100*time.Millisecond, 5*time.Second, 2.0),
		tangguh.WithCache(2*time.Minute),
		tangguh.WithSimpleLogger(),
		tangguh.WithDebug(),
	)
	if err != nil {
		log.Fatalf("invalid basic client config: %v", err)
	}
	defer basic.Close()

	var lessons []lesson
	if err := basic.GetJSON(ctx, "/lessons", &lessons, tangguh.WithQuery("day", "monday")); err != nil {
		log.Fatalf("basic GET failed: %v", err)
	}
	fmt.Println("lessons:", lessons)

	// The identical call is served from cache: no second network round trip.
	if err := basic.GetJSON(ctx, "/lessons", &lessons, tangguh.WithQuery("day", "monday")); err != nil {
		log.Fatalf("cached GET failed: %v", err)
	}
	fmt.Printf("cache stats: %+v\n", basic.CacheStats())

	// --- Advanced snippet: interceptors, middleware, metrics, token refresh ---
	advanced, err := tangguh.New(
		tangguh.WithBaseURL(server.URL),
		tangguh.WithEnvironment(tangguh.EnvDevelopment),
		tangguh.WithRequestInterceptor(tangguh.RequestInterceptorFunc(func(_ context.Context, req *tangguh.Request) (*tangguh.Request, error) {
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.Header.Set("X-Client", "tangguh-example")
			return req, nil
		})),
		tangguh.WithMiddleware(func(req *http.Request, next tangguh.RoundTripper) (*http.Response, error) {
			start := time.Now()
			res, err := next.RoundTrip(req)
			fmt.Printf("request %s took %v\n", req.URL.Path, time.Since(start))
			return res, err
		}),
		tangguh.WithMetrics(),
		tangguh.WithRefreshPath("/auth/refresh"),
		tangguh.WithRetryAttempts(2),
	)
	if err != nil {
		log.Fatalf("invalid advanced client config: %v", err)
	}
	defer advanced.Close()

	// A stale access token triggers one refresh and one replay under the hood.
	if err := advanced.SetAuthToken("access-stale", "refresh-0"); err != nil {
		log.Fatalf("set token: %v", err)
	}
	profile, err := tangguh.GetAs[map[string]string](ctx, advanced, "/profile")
	if err != nil {
		log.Fatalf("profile GET failed: %v", err)
	}
	fmt.Println("profile:", profile)
}
