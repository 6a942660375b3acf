package tangguh

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "TANGGUH_CONFIG"

// DefaultConfigPaths lists where LoadConfig looks for a config file when no
// explicit path is given. The first existing file wins.
var DefaultConfigPaths = []string{
	"tangguh.yaml",
	"tangguh.yml",
}

// LoadConfig assembles a Config from layered sources, later layers winning:
//
//  1. the environment preset named by TANGGUH_ENVIRONMENT (production when unset)
//  2. an optional YAML file (path argument, else TANGGUH_CONFIG, else DefaultConfigPaths)
//  3. TANGGUH_* environment variables
//
// A .env file in the working directory is read first so local development
// can override without exporting. Pass the result to New via WithConfig.
func LoadConfig(path string) (Config, error) {
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()

	k := koanf.New(".")

	defaults := ConfigForEnvironment(os.Getenv("TANGGUH_ENVIRONMENT"))
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("TANGGUH_", ".", envKeyToPath), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeyToPath maps TANGGUH_* variables to config paths. Only listed keys
// are honored so unrelated environment variables cannot pollute the config.
func envKeyToPath(key string) string {
	mappings := map[string]string{
		"TANGGUH_BASE_URL":                  "base_url",
		"TANGGUH_TIMEOUT":                   "timeout",
		"TANGGUH_RETRY_ATTEMPTS":            "retry.attempts",
		"TANGGUH_RETRY_BASE_DELAY":          "retry.base_delay",
		"TANGGUH_RETRY_MAX_DELAY":           "retry.max_delay",
		"TANGGUH_RETRY_MULTIPLIER":          "retry.multiplier",
		"TANGGUH_RETRY_JITTER":              "retry.jitter",
		"TANGGUH_CACHE_DISABLED":            "cache.disabled",
		"TANGGUH_CACHE_TTL":                 "cache.ttl",
		"TANGGUH_CACHE_SWEEP_INTERVAL":      "cache.sweep_interval",
		"TANGGUH_AUTH_HEADER_PREFIX":        "auth.header_prefix",
		"TANGGUH_AUTH_DISABLE_AUTO_REFRESH": "auth.disable_auto_refresh",
		"TANGGUH_AUTH_REFRESH_PATH":         "auth.refresh_path",
		"TANGGUH_AUTH_EARLY_REFRESH_WINDOW": "auth.early_refresh_window",
		"TANGGUH_LOG_LEVEL":                 "log_level",
		"TANGGUH_ENVIRONMENT":               "environment",
	}
	if mapped, ok := mappings[strings.ToUpper(key)]; ok {
		return mapped
	}
	return ""
}
