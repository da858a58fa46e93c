// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings shared by the interop commands.
type Config struct {
	DatabaseURL   string
	Port          string
	SessionSecret string
	SecureCookie  bool
	NATSURL       string
	LogLevel      string
	LogDir        string

	ActiveCacheSize int
	// ActiveCacheTTL of zero keeps the active mission until invalidated.
	ActiveCacheTTL time.Duration
}

// DevSessionSecret is used when SESSION_SECRET is unset.
const DevSessionSecret = "dev-insecure-session-secret"

// FromEnv reads the configuration from environment variables, applying
// development defaults.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := Config{
		DatabaseURL:   get("DATABASE_URL", ""),
		Port:          get("PORT", "8080"),
		SessionSecret: get("SESSION_SECRET", ""),
		SecureCookie:  strings.EqualFold(get("SESSION_COOKIE_SECURE", ""), "true"),
		NATSURL:       get("NATS_URL", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
		LogDir:        get("LOG_DIR", ""),
	}

	size, err := strconv.Atoi(get("ACTIVE_CACHE_SIZE", "16"))
	if err != nil || size <= 0 {
		return Config{}, fmt.Errorf("ACTIVE_CACHE_SIZE must be a positive integer")
	}
	cfg.ActiveCacheSize = size

	ttl, err := time.ParseDuration(get("ACTIVE_CACHE_TTL", "0s"))
	if err != nil || ttl < 0 {
		return Config{}, fmt.Errorf("ACTIVE_CACHE_TTL must be a non-negative duration")
	}
	cfg.ActiveCacheTTL = ttl

	return cfg, nil
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	return ":" + c.Port
}
