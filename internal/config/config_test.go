package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/store"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "offsync.db", cfg.Store.Path)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Probe.Interval.Duration)
	assert.Equal(t, "", cfg.Probe.URL)
	assert.Equal(t, ":8081", cfg.Proxy.Listen)
	assert.Equal(t, "v1", cfg.Proxy.Version)
	assert.Equal(t, []string{"/index.html"}, cfg.Proxy.Shell)
	assert.Empty(t, cfg.Proxy.Routes)
	assert.True(t, cfg.Proxy.S3.UseSSL)
	assert.Equal(t, "offsync:", cfg.Bus.Prefix)
	assert.Equal(t, 0, cfg.Sync.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.PollInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Sync.LeaseTTL.Duration)
	assert.Empty(t, cfg.Resources)
}

func TestParse_OverridesDefaults(t *testing.T) {
	src := `
store: path: "/var/lib/offsync/app.db"
api: {
	base_url: "https://api.example.com"
	timeout:  "5s"
}
proxy: {
	version: "v7"
	shell: ["/index.html", "/app.js", "/app.css"]
	routes: ["/tasks", "/team"]
	bypass: ["path startsWith \"/api/\"", "path == \"/healthz\""]
	hold_waiting: true
}
sync: max_attempts: 5
resources: [{prefix: "/api/voice/queue", partition: "voice-recording-queue"}]
`
	cfg, err := Parse([]byte(src), "offsync.cue")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/offsync/app.db", cfg.Store.Path)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout.Duration)
	assert.Equal(t, "v7", cfg.Proxy.Version)
	assert.Equal(t, []string{"/index.html", "/app.js", "/app.css"}, cfg.Proxy.Shell)
	assert.Equal(t, []string{"/tasks", "/team"}, cfg.Proxy.Routes)
	assert.Len(t, cfg.Proxy.Bypass, 2)
	assert.True(t, cfg.Proxy.HoldWaiting)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, "voice-recording-queue", cfg.Resources[0].Partition)
	assert.False(t, cfg.Resources[0].Singleton)

	// Untouched sections keep defaults.
	assert.Equal(t, ":8081", cfg.Proxy.Listen)
	assert.Equal(t, 2*time.Second, cfg.Sync.PollInterval.Duration)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `colour: "blue"`},
		{"unknown nested field", `api: retries: 3`},
		{"bad url scheme", `api: base_url: "ftp://example.com"`},
		{"bad duration", `sync: lease_ttl: "forever"`},
		{"negative attempts", `sync: max_attempts: -1`},
		{"relative route", `proxy: routes: ["tasks"]`},
		{"mapping without slash", `resources: [{prefix: "api/x", partition: "x"}]`},
		{"empty partition", `resources: [{prefix: "/api/x", partition: ""}]`},
		{"syntax error", `api: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`bus: redis_url: "redis://localhost:6379/2"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Bus.RedisURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvStorePath, "/tmp/env.db")
	t.Setenv(EnvAPIBaseURL, "https://env.example.com")
	t.Setenv(EnvAPIToken, "secret")
	t.Setenv(EnvRedisURL, "redis://env:6379/0")
	t.Setenv(EnvProxyListen, ":9999")
	t.Setenv(EnvProxyUpstream, "http://upstream:3000")
	t.Setenv(EnvProbeURL, "https://env.example.com/healthz")
	t.Setenv(EnvProbeInterval, "750ms")
	t.Setenv(EnvMaxAttempts, "9")

	path := filepath.Join(t.TempDir(), "offsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`store: path: "file.db"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, "redis://env:6379/0", cfg.Bus.RedisURL)
	assert.Equal(t, ":9999", cfg.Proxy.Listen)
	assert.Equal(t, "http://upstream:3000", cfg.Proxy.Upstream)
	assert.Equal(t, "https://env.example.com/healthz", cfg.Probe.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Probe.Interval.Duration)
	assert.Equal(t, 9, cfg.Sync.MaxAttempts)
}

func TestLoad_BadEnvFallsBack(t *testing.T) {
	t.Setenv(EnvProbeInterval, "soon")
	t.Setenv(EnvMaxAttempts, "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Probe.Interval.Duration)
	assert.Equal(t, 0, cfg.Sync.MaxAttempts)
}

func TestProxyConfig_Conversions(t *testing.T) {
	cfg, err := Parse([]byte(`proxy: {
	version: "v2"
	shell: ["/index.html", "/app.js"]
	asset_prefixes: ["/static/"]
	s3: {endpoint: "s3.local:9000", bucket: "shell", use_ssl: false}
}`), "")
	require.NoError(t, err)

	wc := cfg.Proxy.WorkerConfig()
	assert.Equal(t, "v2", wc.Version)
	assert.Equal(t, []string{"/index.html", "/app.js"}, wc.ShellAssets)
	assert.Equal(t, []string{"/static/"}, wc.AssetPrefixes)
	assert.Nil(t, wc.AssetExtensions)

	s3, ok := cfg.Proxy.ShellBucket()
	require.True(t, ok)
	assert.Equal(t, "shell", s3.Bucket)
	assert.Equal(t, "s3.local:9000", s3.Endpoint)
	assert.False(t, s3.UseSSL)

	def, err := Default()
	require.NoError(t, err)
	_, ok = def.Proxy.ShellBucket()
	assert.False(t, ok)
}

func TestConfig_Table(t *testing.T) {
	cfg, err := Parse([]byte(`resources: [{prefix: "/api/voice/queue", partition: "voice-recording-queue"}]`), "")
	require.NoError(t, err)

	table, err := cfg.Table()
	require.NoError(t, err)

	target, ok := table.Resolve("/api/voice/queue")
	require.True(t, ok)
	assert.Equal(t, store.PartitionVoiceRecordingQueue, target.Partition)

	target, ok = table.Resolve("/api/tasks")
	require.True(t, ok)
	assert.Equal(t, store.PartitionTasks, target.Partition)
}
