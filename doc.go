// Package tangguh provides a resilient, typed HTTP API client with a single
// request pipeline:
//
//   - Retries with exponential backoff + bounded jitter (5xx, 429 and
//     transport failures only; other 4xx never retry)
//   - Automatic session refresh: a 401 triggers one coalesced token refresh
//     and one replay of the original request
//   - In-memory response caching for GETs with TTL, per-request overrides
//     and a periodic sweeper
//   - De-duplication of concurrent identical GETs into one network call
//   - Cooperative cancellation: every request is registered under an ID and
//     can be aborted individually or en masse
//   - Ordered request / response / error interceptor chains
//   - Circuit breaker, client-side throttle and retry budget
//   - Prometheus metrics and leveled structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Hot-swappable configuration via atomic snapshots (SetConfig)
//   - Extensibility via pluggable cache, codec, retry policy and middleware
//
// Typical usage:
//
//	client, err := tangguh.New(
//	    tangguh.WithBaseURL("https://api.example.com"),
//	    tangguh.WithEnvironment(tangguh.EnvProduction),
//	    tangguh.WithCache(5*time.Minute),
//	    tangguh.WithRetryAttempts(3),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	var lessons []Lesson
//	err = client.GetJSON(ctx, "/lessons", &lessons, tangguh.WithQuery("day", "monday"))
//
// Responses follow the {success, data, error, timestamp} envelope used by the
// backing API; DecodeData unwraps it and plain JSON or raw text bodies pass
// through untouched. The library avoids opinionated logging: provide a Logger
// (e.g. via WithSimpleLogger) and enable debug flags selectively (WithDebug /
// WithDebugConfig) for insight without noise.
package tangguh
