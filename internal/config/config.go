// Package config loads offsync configuration.
//
// Configuration is a CUE document unified with an embedded schema that
// supplies defaults and constraints. OFFSYNC_* environment variables are
// applied on top of the result.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/offsync/internal/bridge"
	"github.com/roach88/offsync/internal/proxy"
)

//go:embed schema.cue
var schemaSource string

// Config is the complete offsync configuration.
type Config struct {
	Store     StoreConfig      `json:"store"`
	API       APIConfig        `json:"api"`
	Probe     ProbeConfig      `json:"probe"`
	Proxy     ProxyConfig      `json:"proxy"`
	Bus       BusConfig        `json:"bus"`
	Sync      SyncConfig       `json:"sync"`
	Resources []bridge.Mapping `json:"resources"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type APIConfig struct {
	BaseURL string   `json:"base_url"`
	Token   string   `json:"token"`
	Timeout Duration `json:"timeout"`
}

// ProbeConfig enables active connectivity probing when URL is set.
type ProbeConfig struct {
	URL      string   `json:"url"`
	Interval Duration `json:"interval"`
}

type ProxyConfig struct {
	Listen          string   `json:"listen"`
	Upstream        string   `json:"upstream"`
	CacheDB         string   `json:"cache_db"`
	Version         string   `json:"version"`
	Shell           []string `json:"shell"`
	ShellDocument   string   `json:"shell_document"`
	Routes          []string `json:"routes"`
	AssetExtensions []string `json:"asset_extensions"`
	AssetPrefixes   []string `json:"asset_prefixes"`
	Bypass          []string `json:"bypass"`
	HoldWaiting     bool     `json:"hold_waiting"`
	Timeout         Duration `json:"timeout"`
	S3              S3Config `json:"s3"`
}

// S3Config selects an S3 bucket as the shell source when Bucket is set.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
}

// BusConfig selects Redis pub/sub when RedisURL is set, otherwise the
// in-process bus.
type BusConfig struct {
	RedisURL string `json:"redis_url"`
	Prefix   string `json:"prefix"`
}

type SyncConfig struct {
	MaxAttempts  int      `json:"max_attempts"`
	PollInterval Duration `json:"poll_interval"`
	LeaseTTL     Duration `json:"lease_ttl"`
	LeaseKey     string   `json:"lease_key"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the schema defaults with no file and no environment.
func Default() (*Config, error) {
	return decode(nil, "")
}

// Load reads the CUE file at path (optional), unifies it with the schema
// and applies environment overrides.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	cfg, err := decode(src, path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// Parse decodes CUE source without consulting the environment.
func Parse(src []byte, filename string) (*Config, error) {
	return decode(src, filename)
}

func decode(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if src != nil {
		if filename == "" {
			filename = "config.cue"
		}
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("compile config: %s", errors.Details(err, nil))
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %s", errors.Details(err, nil))
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// WorkerConfig converts the proxy section into a worker configuration.
// An empty asset_extensions list keeps the worker's defaults.
func (p ProxyConfig) WorkerConfig() proxy.Config {
	wc := proxy.Config{
		Version:       p.Version,
		ShellAssets:   p.Shell,
		ShellDocument: p.ShellDocument,
		Routes:        p.Routes,
		AssetPrefixes: p.AssetPrefixes,
		HoldWaiting:   p.HoldWaiting,
	}
	if len(p.AssetExtensions) > 0 {
		wc.AssetExtensions = p.AssetExtensions
	}
	return wc
}

// ShellBucket returns the S3 shell location, or false when unset.
func (p ProxyConfig) ShellBucket() (proxy.S3Config, bool) {
	if p.S3.Bucket == "" {
		return proxy.S3Config{}, false
	}
	return proxy.S3Config{
		Endpoint:  p.S3.Endpoint,
		Region:    p.S3.Region,
		Bucket:    p.S3.Bucket,
		Prefix:    p.S3.Prefix,
		AccessKey: p.S3.AccessKey,
		SecretKey: p.S3.SecretKey,
		UseSSL:    p.S3.UseSSL,
	}, true
}

// Table builds the resource table: defaults plus configured mappings.
func (c *Config) Table() (*bridge.Table, error) {
	t := bridge.DefaultTable()
	for _, m := range c.Resources {
		if err := t.Add(m); err != nil {
			return nil, fmt.Errorf("resource %s: %w", m.Prefix, err)
		}
	}
	return t, nil
}

// ExtraPartitions lists partitions named by configured resources, for
// registration with the local store.
func (c *Config) ExtraPartitions() []string {
	names := make([]string, 0, len(c.Resources))
	seen := make(map[string]bool)
	for _, m := range c.Resources {
		if !seen[m.Partition] {
			seen[m.Partition] = true
			names = append(names, m.Partition)
		}
	}
	return names
}
