package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names used in the route table.
const (
	BackendCore = "core"
	BackendPoC  = "poc"
)

// Config models sheratan.yml.
type Config struct {
	Backends       map[string]Backend  `yaml:"backends"`
	Routes         map[string]string   `yaml:"routes"`
	RequestTimeout time.Duration       `yaml:"request_timeout"`
	ProbeTimeout   time.Duration       `yaml:"probe_timeout"`
	LedgerUser     string              `yaml:"ledger_user"`
	Resources      map[string]Resource `yaml:"resources"`
	Telemetry      Telemetry           `yaml:"telemetry"`
	Stub           Stub                `yaml:"stub"`
}

type Backend struct {
	URL string `yaml:"url"`
}

// ResourceJobs never refetches on focus.
const ResourceJobs = "jobs"

// Resource is the polling policy of one cached resource.
type Resource struct {
	Interval       time.Duration `yaml:"interval"`
	Stale          time.Duration `yaml:"stale"`
	RefetchOnFocus bool          `yaml:"refetch_on_focus"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type Stub struct {
	Addr      string `yaml:"addr"`
	Workspace string `yaml:"workspace"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with shr config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for _, name := range []string{BackendCore, BackendPoC} {
		b, ok := c.Backends[name]
		if !ok || b.URL == "" {
			return fmt.Errorf("config.backends.%s.url is required", name)
		}
	}
	for name, b := range c.Backends {
		u, err := url.Parse(b.URL)
		if err != nil {
			return fmt.Errorf("backend %s has invalid url: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend %s url must be absolute http(s), got %q", name, b.URL)
		}
	}
	for op, backend := range c.Routes {
		if op == "" {
			return fmt.Errorf("config.routes contains empty operation")
		}
		if _, ok := c.Backends[backend]; !ok {
			return fmt.Errorf("route %s references unknown backend %s", op, backend)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config.request_timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("config.probe_timeout must be positive")
	}
	for name, r := range c.Resources {
		if r.Interval < 0 || r.Stale < 0 {
			return fmt.Errorf("resource %s has negative interval or stale window", name)
		}
		if r.Interval > 0 && r.Stale >= r.Interval {
			return fmt.Errorf("resource %s stale window %s must be shorter than interval %s", name, r.Stale, r.Interval)
		}
		if name == ResourceJobs && r.RefetchOnFocus {
			return fmt.Errorf("resource %s cannot refetch on focus", name)
		}
	}
	return nil
}

// BaseURL returns the base URL that serves the given operation.
func (c *Config) BaseURL(op string) string {
	backend := c.Routes[op]
	if backend == "" {
		backend = BackendCore
	}
	return c.Backends[backend].URL
}

// Resource returns the polling policy for name, or a zero policy.
func (c *Config) Resource(name string) Resource {
	return c.Resources[name]
}

// ResourceNames lists configured resources in stable order.
func (c *Config) ResourceNames() []string {
	names := make([]string, 0, len(c.Resources))
	for name := range c.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sheratan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	var overlay struct {
		Resources map[string]resourceOverlay `yaml:"resources"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.merge(override)
	cfg.mergeResources(overlay.Resources)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) merge(o Config) {
	for name, b := range o.Backends {
		c.Backends[name] = b
	}
	for op, backend := range o.Routes {
		c.Routes[op] = backend
	}
	if o.RequestTimeout != 0 {
		c.RequestTimeout = o.RequestTimeout
	}
	if o.ProbeTimeout != 0 {
		c.ProbeTimeout = o.ProbeTimeout
	}
	if o.LedgerUser != "" {
		c.LedgerUser = o.LedgerUser
	}
	if o.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	if o.Telemetry.Endpoint != "" {
		c.Telemetry.Endpoint = o.Telemetry.Endpoint
	}
	if o.Telemetry.ServiceName != "" {
		c.Telemetry.ServiceName = o.Telemetry.ServiceName
	}
	if o.Telemetry.Insecure {
		c.Telemetry.Insecure = true
	}
	if o.Stub.Addr != "" {
		c.Stub.Addr = o.Stub.Addr
	}
	if o.Stub.Workspace != "" {
		c.Stub.Workspace = o.Stub.Workspace
	}
}

// resourceOverlay is a resource override where unset keys keep the default.
type resourceOverlay struct {
	Interval       *time.Duration `yaml:"interval"`
	Stale          *time.Duration `yaml:"stale"`
	RefetchOnFocus *bool          `yaml:"refetch_on_focus"`
}

func (c *Config) mergeResources(overlays map[string]resourceOverlay) {
	for name, o := range overlays {
		r := c.Resources[name]
		if o.Interval != nil {
			r.Interval = *o.Interval
		}
		if o.Stale != nil {
			r.Stale = *o.Stale
		}
		if o.RefetchOnFocus != nil {
			r.RefetchOnFocus = *o.RefetchOnFocus
		}
		c.Resources[name] = r
	}
}

const defaultTemplate = `backends:
  core:
    url: http://localhost:8001/api
  poc:
    url: http://localhost:8001/api

routes:
  quick_start: poc

request_timeout: 10s
probe_timeout: 3s
ledger_user: alice

resources:
  missions:
    interval: 5s
    stale: 4s
    refetch_on_focus: true
  tasks:
    interval: 10s
    stale: 8s
    refetch_on_focus: true
  jobs:
    interval: 10s
    stale: 8s
    refetch_on_focus: false
  mesh-workers:
    interval: 5s
    stale: 4s
    refetch_on_focus: true
  live-system-status:
    interval: 3s
    stale: 2s
    refetch_on_focus: true
  live-logs:
    interval: 5s
    stale: 4s
    refetch_on_focus: true
  system-health:
    interval: 30s
    stale: 25s
    refetch_on_focus: true
  system-status:
    interval: 10s
    stale: 8s
    refetch_on_focus: true
  selfloop-jobs:
    interval: 5s
    stale: 4s
    refetch_on_focus: true
  loop-state:
    interval: 5s
    stale: 4s
    refetch_on_focus: true
  projects:
    stale: 30s
    refetch_on_focus: true

telemetry:
  enabled: false
  endpoint: http://127.0.0.1:4318
  service_name: sheratan-dash

stub:
  addr: 127.0.0.1:8001
  workspace: .
`
