package config

import "time"

type Config struct {
	Logging    Logging    `yaml:"logging"`
	RADIUS     RADIUS     `yaml:"radius"`
	NAS        []NAS      `yaml:"nas"`
	Plans      []Plan     `yaml:"plans,omitempty"`
	Monitor    Monitor    `yaml:"monitor"`
	Accounting Accounting `yaml:"accounting"`
	Store      Store      `yaml:"store"`
	Push       Push       `yaml:"push,omitempty"`
	Gateway    Gateway    `yaml:"gateway,omitempty"`
	Metrics    Metrics    `yaml:"metrics,omitempty"`
}

type Logging struct {
	Format     string            `yaml:"format"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components,omitempty"`
}

// RADIUS describes the upstream AAA server hotspotd authenticates and
// accounts against.
type RADIUS struct {
	Server   string        `yaml:"server"`
	AuthPort int           `yaml:"auth_port,omitempty"`
	AcctPort int           `yaml:"acct_port,omitempty"`
	Secret   string        `yaml:"secret"`
	NASIP    string        `yaml:"nas_ip,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
}

type NAS struct {
	Name        string  `yaml:"name"`
	Address     string  `yaml:"address"`
	Secret      string  `yaml:"secret,omitempty"`
	Type        string  `yaml:"type"`
	DefaultPlan string  `yaml:"default_plan,omitempty"`
	CoAPort     int     `yaml:"coa_port,omitempty"`
	API         NASAPI  `yaml:"api,omitempty"`
	RateLimit   float64 `yaml:"rate_limit,omitempty"`
	Burst       int     `yaml:"burst,omitempty"`
}

type NASAPI struct {
	URL                string        `yaml:"url,omitempty"`
	Username           string        `yaml:"username,omitempty"`
	Password           string        `yaml:"password,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
}

// Plan is seeded into the store at startup when no plan of that name
// exists yet.
type Plan struct {
	Name         string        `yaml:"name"`
	Duration     time.Duration `yaml:"duration"`
	DataCapBytes uint64        `yaml:"data_cap_bytes,omitempty"`
}

type Monitor struct {
	Interval   time.Duration `yaml:"interval,omitempty"`
	Workers    int           `yaml:"workers,omitempty"`
	Thresholds []int         `yaml:"thresholds,omitempty"`
}

type Accounting struct {
	Listen          string        `yaml:"listen,omitempty"`
	InterimInterval time.Duration `yaml:"interim_interval,omitempty"`
	Upstream        bool          `yaml:"upstream"`
}

type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

type Push struct {
	Redis Redis `yaml:"redis,omitempty"`
}

type Redis struct {
	Address  string `yaml:"address,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

type Gateway struct {
	Address string `yaml:"address,omitempty"`
	// Token, when set, must be presented by websocket clients.
	Token string `yaml:"token,omitempty"`
}

type Metrics struct {
	Address string `yaml:"address,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

func (c *Config) GetNAS(name string) *NAS {
	for i := range c.NAS {
		if c.NAS[i].Name == name {
			return &c.NAS[i]
		}
	}
	return nil
}

func (c *Config) NASByAddress(addr string) *NAS {
	for i := range c.NAS {
		if c.NAS[i].Address == addr {
			return &c.NAS[i]
		}
	}
	return nil
}
