package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "HOTSPOTD_"

var DefaultThresholds = []int{60, 30, 15, 5}

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes a YAML document, applies environment overrides through
// lookup, fills defaults and validates the result.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if lookup != nil {
		cfg.applyEnv(lookup)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// EnvName returns the variable consulted for a per-NAS setting, e.g.
// EnvName("ap-1", "password") is HOTSPOTD_NAS_AP_1_PASSWORD.
func EnvName(nas, key string) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	b.WriteString("NAS_")
	for _, r := range strings.ToUpper(nas) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	b.WriteString(strings.ToUpper(key))
	return b.String()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envPrefix + "RADIUS_SECRET"); ok {
		c.RADIUS.Secret = v
	}
	if v, ok := lookup(envPrefix + "STORE_DSN"); ok {
		c.Store.DSN = v
	}
	if v, ok := lookup(envPrefix + "REDIS_PASSWORD"); ok {
		c.Push.Redis.Password = v
	}
	if v, ok := lookup(envPrefix + "GATEWAY_TOKEN"); ok {
		c.Gateway.Token = v
	}
	for i := range c.NAS {
		n := &c.NAS[i]
		if v, ok := lookup(EnvName(n.Name, "password")); ok {
			n.API.Password = v
		}
		if v, ok := lookup(EnvName(n.Name, "secret")); ok {
			n.Secret = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.RADIUS.AuthPort == 0 {
		c.RADIUS.AuthPort = 1812
	}
	if c.RADIUS.AcctPort == 0 {
		c.RADIUS.AcctPort = 1813
	}
	if c.RADIUS.Timeout == 0 {
		c.RADIUS.Timeout = 5 * time.Second
	}
	if c.RADIUS.Retries == 0 {
		c.RADIUS.Retries = 3
	}

	for i := range c.NAS {
		n := &c.NAS[i]
		if n.Type == "" {
			n.Type = "routeros"
		}
		if n.Secret == "" {
			n.Secret = c.RADIUS.Secret
		}
		if n.CoAPort == 0 {
			n.CoAPort = 3799
		}
		if n.API.Timeout == 0 {
			n.API.Timeout = 10 * time.Second
		}
		if n.RateLimit == 0 {
			n.RateLimit = 10
		}
		if n.Burst == 0 {
			n.Burst = 5
		}
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 15 * time.Minute
	}
	if c.Monitor.Workers == 0 {
		c.Monitor.Workers = 8
	}
	if len(c.Monitor.Thresholds) == 0 {
		c.Monitor.Thresholds = append([]int(nil), DefaultThresholds...)
	}

	if c.Accounting.InterimInterval == 0 {
		c.Accounting.InterimInterval = 5 * time.Minute
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "/var/lib/hotspotd/hotspotd.db"
	}

	if c.Push.Redis.Address != "" && c.Push.Redis.Channel == "" {
		c.Push.Redis.Channel = "hotspotd:notifications"
	}

	if c.Metrics.Address != "" && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) Validate() error {
	if c.RADIUS.Server != "" && c.RADIUS.Secret == "" {
		return fmt.Errorf("radius.secret is required when radius.server is set")
	}
	if c.RADIUS.NASIP != "" && net.ParseIP(c.RADIUS.NASIP) == nil {
		return fmt.Errorf("radius.nas_ip %q is not an IP address", c.RADIUS.NASIP)
	}
	if c.RADIUS.Retries < 1 {
		return fmt.Errorf("radius.retries must be at least 1")
	}

	seen := make(map[string]struct{}, len(c.NAS))
	for i, n := range c.NAS {
		if n.Name == "" {
			return fmt.Errorf("nas[%d].name is required", i)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("nas[%d]: duplicate name '%s'", i, n.Name)
		}
		seen[n.Name] = struct{}{}

		if net.ParseIP(n.Address) == nil {
			return fmt.Errorf("nas.%s.address %q is not an IP address", n.Name, n.Address)
		}
		switch n.Type {
		case "routeros":
			if n.API.URL == "" {
				return fmt.Errorf("nas.%s.api.url is required for type routeros", n.Name)
			}
		case "coa":
			if n.Secret == "" {
				return fmt.Errorf("nas.%s.secret is required for type coa", n.Name)
			}
		default:
			return fmt.Errorf("nas.%s.type '%s' is not supported", n.Name, n.Type)
		}
	}

	plans := make(map[string]struct{}, len(c.Plans))
	for i, p := range c.Plans {
		if p.Name == "" {
			return fmt.Errorf("plans[%d].name is required", i)
		}
		if _, dup := plans[p.Name]; dup {
			return fmt.Errorf("plans[%d]: duplicate name '%s'", i, p.Name)
		}
		plans[p.Name] = struct{}{}
		if p.Duration < time.Minute {
			return fmt.Errorf("plans.%s.duration must be at least 1m", p.Name)
		}
	}

	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor.interval must be at least 1s")
	}
	if c.Monitor.Workers < 1 {
		return fmt.Errorf("monitor.workers must be at least 1")
	}
	prev := 0
	for i, t := range c.Monitor.Thresholds {
		if t <= 0 {
			return fmt.Errorf("monitor.thresholds[%d] must be positive", i)
		}
		if i > 0 && t >= prev {
			return fmt.Errorf("monitor.thresholds must be strictly descending")
		}
		prev = t
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver '%s' is not supported", c.Store.Driver)
	}

	return nil
}
