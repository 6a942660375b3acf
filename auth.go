package tangguh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// TokenPair is the credential set issued by the authentication endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// RefreshFunc exchanges a refresh token for a fresh pair. The default
// implementation posts to AuthConfig.RefreshPath; override it with
// WithRefreshFunc for bespoke auth endpoints.
type RefreshFunc func(ctx context.Context, refreshToken string) (*TokenPair, error)

// authManager guards the token pair and coordinates refreshes. However many
// requests hit a 401 at once, exactly one refresh runs; the rest share its
// outcome through the singleflight group while remaining individually
// cancellable.
type authManager struct {
	mu      sync.RWMutex
	access  string
	refresh string

	store     CredentialStore
	refreshFn RefreshFunc
	logger    Logger
	group     singleflight.Group
}

func newAuthManager(store CredentialStore) *authManager {
	if store == nil {
		store = NewMemoryCredentialStore()
	}
	return &authManager{store: store}
}

// restore loads a persisted session into memory.
func (a *authManager) restore() error {
	access, refresh, err := a.store.Load()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.access, a.refresh = access, refresh
	a.mu.Unlock()
	return nil
}

func (a *authManager) accessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.access
}

func (a *authManager) tokens() (string, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.access, a.refresh
}

// setTokens stores the pair in memory and through the credential store. An
// empty refresh token keeps the current one, so callers can rotate the
// access token alone.
func (a *authManager) setTokens(access, refresh string) error {
	a.mu.Lock()
	a.access = access
	if refresh != "" {
		a.refresh = refresh
	}
	access, refresh = a.access, a.refresh
	a.mu.Unlock()

	return a.store.Save(access, refresh)
}

// clear drops both tokens from memory and the credential store.
func (a *authManager) clear() error {
	a.mu.Lock()
	a.access, a.refresh = "", ""
	a.mu.Unlock()

	return a.store.Clear()
}

func (a *authManager) canRefresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.refreshFn != nil && a.refresh != ""
}

// refreshAccessToken runs (or joins) the single in-flight refresh and returns
// the new access token. The refresh itself is detached from the initiating
// caller's context so one impatient caller cannot fail everyone else; it is
// bounded by timeout instead. Waiters that cancel abandon only their own wait.
//
// A terminal refresh failure clears both tokens. Callers surface their own
// original 401; the refresh error only annotates logs.
func (a *authManager) refreshAccessToken(ctx context.Context, timeout time.Duration) (string, error) {
	a.mu.RLock()
	refreshToken := a.refresh
	fn := a.refreshFn
	a.mu.RUnlock()

	if fn == nil || refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	ch := a.group.DoChan("refresh", func() (any, error) {
		execCtx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(execCtx, timeout)
			defer cancel()
		}

		pair, err := fn(execCtx, refreshToken)
		if err != nil {
			_ = a.clear()
			return nil, err
		}
		if pair == nil || pair.AccessToken == "" {
			_ = a.clear()
			return nil, fmt.Errorf("refresh returned no access token")
		}
		if err := a.setTokens(pair.AccessToken, pair.RefreshToken); err != nil {
			// The rotation already happened server-side and memory holds
			// the new pair. Failing the refresh here would 401 every
			// waiter over a persistence problem, so the session continues
			// and only the persisted copy is stale.
			if a.logger != nil {
				a.logger.Warn("refreshed credentials not persisted", "error", err.Error())
			}
		}
		return pair.AccessToken, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", context.Cause(ctx)
	}
}

// tokenExpiresWithin reports whether token is a JWT whose exp claim falls
// inside window. Opaque tokens and JWTs without exp report false, which
// leaves the reactive 401 path in charge for them.
func tokenExpiresWithin(token string, window time.Duration) bool {
	if token == "" || window <= 0 {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) <= window
}

// defaultRefresh posts the refresh token to AuthConfig.RefreshPath and
// decodes the returned pair. It bypasses the pipeline on purpose: a refresh
// must not recurse into caching, coalescing or the 401 handler.
func (c *Client) defaultRefresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	cfg := c.config.Load()
	if cfg.Auth.RefreshPath == "" {
		return nil, fmt.Errorf("no refresh endpoint configured")
	}

	u, err := (&Request{Method: http.MethodPost, Path: cfg.Auth.RefreshPath}).resolveURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("resolve refresh endpoint: %w", err)
	}

	body, err := c.marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Content-Type", contentTypeJSON)
	hr.Header.Set("Accept", contentTypeJSON)
	for k, v := range cfg.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(hr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message, _ := parseErrorBody(raw)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("refresh rejected: %d %s", resp.StatusCode, message)
	}

	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		// Some auth services wrap the pair in the {success, data} envelope.
		var envelope struct {
			Data TokenPair `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data.AccessToken != "" {
			pair = envelope.Data
		}
	}
	return &pair, nil
}
