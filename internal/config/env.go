package config

import (
	"os"
	"strconv"
	"time"
)

// Environment variables that override file configuration.
const (
	EnvStorePath     = "OFFSYNC_DB"
	EnvAPIBaseURL    = "OFFSYNC_API_URL"
	EnvAPIToken      = "OFFSYNC_API_TOKEN"
	EnvRedisURL      = "OFFSYNC_REDIS_URL"
	EnvProxyListen   = "OFFSYNC_PROXY_LISTEN"
	EnvProxyUpstream = "OFFSYNC_PROXY_UPSTREAM"
	EnvProbeURL      = "OFFSYNC_PROBE_URL"
	EnvProbeInterval = "OFFSYNC_PROBE_INTERVAL"
	EnvMaxAttempts   = "OFFSYNC_MAX_ATTEMPTS"
)

func applyEnv(cfg *Config) {
	cfg.Store.Path = getenv(EnvStorePath, cfg.Store.Path)
	cfg.API.BaseURL = getenv(EnvAPIBaseURL, cfg.API.BaseURL)
	cfg.API.Token = getenv(EnvAPIToken, cfg.API.Token)
	cfg.Bus.RedisURL = getenv(EnvRedisURL, cfg.Bus.RedisURL)
	cfg.Proxy.Listen = getenv(EnvProxyListen, cfg.Proxy.Listen)
	cfg.Proxy.Upstream = getenv(EnvProxyUpstream, cfg.Proxy.Upstream)
	cfg.Probe.URL = getenv(EnvProbeURL, cfg.Probe.URL)
	cfg.Probe.Interval.Duration = getenvDuration(EnvProbeInterval, cfg.Probe.Interval.Duration)
	cfg.Sync.MaxAttempts = getenvInt(EnvMaxAttempts, cfg.Sync.MaxAttempts)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
