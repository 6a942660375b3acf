package tangguh

import (
	"maps"
	"time"
)

// Environment preset names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
	EnvStaging     = "staging"
)

// RetryConfig holds the retry knobs. Attempts counts total tries, so 1 means
// no retries; the NoRetry sentinel also disables them.
type RetryConfig struct {
	Attempts   int           `koanf:"attempts" json:"attempts"`
	BaseDelay  time.Duration `koanf:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay" json:"max_delay"`
	Multiplier float64       `koanf:"multiplier" json:"multiplier"`
	Jitter     float64       `koanf:"jitter" json:"jitter"`
}

// CacheConfig holds the response cache knobs. The zero value keeps caching
// enabled so a partial SetConfig patch cannot silently disable it.
type CacheConfig struct {
	Disabled      bool          `koanf:"disabled" json:"disabled"`
	TTL           time.Duration `koanf:"ttl" json:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval"`
}

// AuthConfig holds the token handling knobs.
type AuthConfig struct {
	// HeaderPrefix precedes the access token in the Authorization header.
	HeaderPrefix string `koanf:"header_prefix" json:"header_prefix"`

	// DisableAutoRefresh turns off both the reactive 401 refresh and the
	// proactive expiry refresh.
	DisableAutoRefresh bool `koanf:"disable_auto_refresh" json:"disable_auto_refresh"`

	// RefreshPath is the endpoint the default RefreshFunc posts to,
	// resolved against BaseURL.
	RefreshPath string `koanf:"refresh_path" json:"refresh_path"`

	// EarlyRefreshWindow refreshes JWT access tokens that expire within
	// the window before dispatching, avoiding a guaranteed 401 round trip.
	// Zero disables proactive refresh; opaque tokens always skip it.
	EarlyRefreshWindow time.Duration `koanf:"early_refresh_window" json:"early_refresh_window"`
}

// Config is the runtime configuration snapshot. The client stores it behind
// an atomic pointer: readers load a consistent snapshot per call and
// SetConfig swaps the whole value, never mutating one in place.
type Config struct {
	BaseURL     string            `koanf:"base_url" json:"base_url"`
	Timeout     time.Duration     `koanf:"timeout" json:"timeout"`
	Retry       RetryConfig       `koanf:"retry" json:"retry"`
	Cache       CacheConfig       `koanf:"cache" json:"cache"`
	Auth        AuthConfig        `koanf:"auth" json:"auth"`
	Headers     map[string]string `koanf:"headers" json:"headers"`
	LogLevel    string            `koanf:"log_level" json:"log_level"`
	Environment string            `koanf:"environment" json:"environment"`
}

// DefaultConfig returns the production preset.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.1,
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Auth: AuthConfig{
			HeaderPrefix:       "Bearer",
			EarlyRefreshWindow: 30 * time.Second,
		},
		LogLevel:    "info",
		Environment: EnvProduction,
	}
}

// ConfigForEnvironment returns the preset for a named environment. Unknown
// names fall back to the production preset.
func ConfigForEnvironment(env string) Config {
	cfg := DefaultConfig()
	cfg.Environment = env

	switch env {
	case EnvDevelopment:
		cfg.Timeout = 60 * time.Second
		cfg.Retry.Attempts = 2
		cfg.Cache.TTL = 30 * time.Second
		cfg.Cache.SweepInterval = 15 * time.Second
		cfg.LogLevel = "debug"
	case EnvTest:
		// Deterministic and isolated: one try, no jitter, no cache, no
		// lingering sessions to leak between test cases.
		cfg.Timeout = 5 * time.Second
		cfg.Retry.Attempts = 1
		cfg.Retry.BaseDelay = 10 * time.Millisecond
		cfg.Retry.MaxDelay = 100 * time.Millisecond
		cfg.Retry.Jitter = 0
		cfg.Cache.Disabled = true
		cfg.LogLevel = "off"
	case EnvStaging:
		cfg.Cache.TTL = 2 * time.Minute
		cfg.LogLevel = "debug"
	case EnvProduction:
	default:
		cfg.Environment = EnvProduction
	}
	return cfg
}

// merged overlays the set fields of patch onto base. Top-level sections
// replace wholesale when any of their fields is set; Headers merge
// key-by-key with patch values winning.
func (patch Config) merged(base Config) Config {
	out := base.clone()

	if patch.BaseURL != "" {
		out.BaseURL = patch.BaseURL
	}
	if patch.Timeout > 0 {
		out.Timeout = patch.Timeout
	}
	if patch.Retry != (RetryConfig{}) {
		out.Retry = patch.Retry
	}
	if patch.Cache != (CacheConfig{}) {
		out.Cache = patch.Cache
	}
	if patch.Auth != (AuthConfig{}) {
		out.Auth = patch.Auth
	}
	if len(patch.Headers) > 0 {
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(patch.Headers))
		}
		maps.Copy(out.Headers, patch.Headers)
	}
	if patch.LogLevel != "" {
		out.LogLevel = patch.LogLevel
	}
	if patch.Environment != "" {
		out.Environment = patch.Environment
	}
	return out
}

func (c Config) clone() Config {
	out := c
	if c.Headers != nil {
		out.Headers = maps.Clone(c.Headers)
	}
	return out
}
