// Package config loads the mplens configuration from a YAML file, with
// MPLENS_* environment overrides for the addresses that change between
// deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mplens/connectivity"
	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/overlay"
)

// Config is the top-level mplens configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Backend string         `yaml:"backend"` // base URL of a remote enrichment server
	Routes  []RouteConfig  `yaml:"routes"`
	Overlay overlay.Config `yaml:"overlay"`
	Browser BrowserConfig  `yaml:"browser"`
	Fetch   FetchConfig    `yaml:"fetch"`
}

// ServerConfig controls the enrichment backend.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	DB            string        `yaml:"db"`
	Seed          bool          `yaml:"seed"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	// MetricsDB stores per-service call metrics. Empty disables them.
	MetricsDB string `yaml:"metrics_db"`
	// TraceSQL logs every statistics query, and records its duration when
	// metrics are enabled.
	TraceSQL bool `yaml:"trace_sql"`
}

// RouteConfig is one connectivity route. Config is passed to the
// transport factory as JSON.
type RouteConfig struct {
	Service  string         `yaml:"service"`
	Strategy string         `yaml:"strategy"` // local | noop | http | mcp
	Endpoint string         `yaml:"endpoint"`
	Config   map[string]any `yaml:"config"`
	Timeout  time.Duration  `yaml:"timeout"`
	Retries  int            `yaml:"retries"`
	Backoff  time.Duration  `yaml:"backoff"`
	Breaker  int            `yaml:"breaker"`
	Fallback bool           `yaml:"fallback"`
}

// BrowserConfig controls the live page host.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// FetchConfig controls the static page fetcher.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBody   int64         `yaml:"max_body"`
}

// Load reads path, or starts from an empty configuration when path is "",
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("MPLENS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("MPLENS_DB"); v != "" {
		c.Server.DB = v
	}
	if v := getenv("MPLENS_METRICS_DB"); v != "" {
		c.Server.MetricsDB = v
	}
	if v := getenv("MPLENS_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := getenv("MPLENS_CHROME"); v != "" {
		c.Browser.Remote = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:5000"
	}
	if c.Server.DB == "" {
		c.Server.DB = "mplens.db"
	}
	if c.Server.WatchInterval <= 0 {
		c.Server.WatchInterval = time.Second
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBody <= 0 {
		c.Fetch.MaxBody = 10 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (compatible; mplens/1.0)"
	}
	if len(c.Routes) == 0 && c.Backend != "" {
		base := strings.TrimRight(c.Backend, "/")
		for _, svc := range services {
			c.Routes = append(c.Routes, RouteConfig{
				Service:  svc,
				Strategy: "http",
				Endpoint: base + "/api/extension/rpc/" + svc,
			})
		}
	}
	for i := range c.Routes {
		rt := &c.Routes[i]
		if rt.Strategy == "" {
			rt.Strategy = "local"
		}
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if rt.Timeout <= 0 {
			rt.Timeout = 10 * time.Second
		}
		if rt.Backoff <= 0 {
			rt.Backoff = 200 * time.Millisecond
		}
	}
}

var services = []string{
	enrichment.ServiceKnownIdentifiers,
	enrichment.ServiceProductInfo,
	enrichment.ServiceWBProductInfo,
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Routes))
	for _, rt := range c.Routes {
		if rt.Service == "" {
			return fmt.Errorf("config: route without service")
		}
		if seen[rt.Service] {
			return fmt.Errorf("config: duplicate route for %s", rt.Service)
		}
		seen[rt.Service] = true
		if rt.Strategy != "local" && rt.Strategy != "noop" && rt.Endpoint == "" {
			return fmt.Errorf("config: route %s: %s strategy needs an endpoint", rt.Service, rt.Strategy)
		}
	}
	return nil
}

// Remote reports whether any enrichment service leaves the process.
func (c *Config) Remote() bool {
	for _, rt := range c.Routes {
		if rt.Strategy != "local" && rt.Strategy != "noop" {
			return true
		}
	}
	return false
}

// ConnectivityRoutes converts the route table for connectivity.Router.Apply.
func (c *Config) ConnectivityRoutes() ([]connectivity.Route, error) {
	out := make([]connectivity.Route, 0, len(c.Routes))
	for _, rt := range c.Routes {
		var raw json.RawMessage
		if len(rt.Config) > 0 {
			b, err := json.Marshal(rt.Config)
			if err != nil {
				return nil, fmt.Errorf("config: route %s: %w", rt.Service, err)
			}
			raw = b
		}
		out = append(out, connectivity.Route{
			Service:  rt.Service,
			Strategy: rt.Strategy,
			Endpoint: rt.Endpoint,
			Config:   raw,
			Timeout:  rt.Timeout,
			Retries:  rt.Retries,
			Backoff:  rt.Backoff,
			Breaker:  rt.Breaker,
			Fallback: rt.Fallback,
		})
	}
	return out, nil
}
