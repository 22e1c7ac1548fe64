// Package config provides reading and writing of appa configuration.
// Supports both global (~/.appa/config.yaml) and local (.appa/config.yaml).
// Reading: uses local if it exists, otherwise global.
// Writing: defaults to global, use --local for local.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoConfigPath is returned when the config path cannot be determined.
	ErrNoConfigPath = errors.New("cannot determine config path")
	// ErrUnknownKey is returned when getting/setting an unknown config key.
	ErrUnknownKey = errors.New("unknown config key")
	// ErrInvalidValue is returned when a config value is invalid.
	ErrInvalidValue = errors.New("invalid config value")
)

// Scope represents the configuration scope (global or local).
type Scope int

const (
	// ScopeGlobal is user-wide config in ~/.appa/config.yaml (default)
	ScopeGlobal Scope = iota
	// ScopeLocal is directory-specific config in .appa/config.yaml
	ScopeLocal
)

// EnvToken is consulted when no token is configured.
const EnvToken = "ADS_TOKEN"

// ADS holds credentials for the ADS search API.
type ADS struct {
	Token string `yaml:"token,omitempty"`
}

// CacheBacking selects and locates the persistent cache.
type CacheBacking struct {
	Backend  string `yaml:"backend,omitempty"`
	Location string `yaml:"location,omitempty"`
}

// Search holds path-finding options.
type Search struct {
	MaxIterations *int     `yaml:"max_iterations,omitempty"`
	SynonymFiles  []string `yaml:"synonym_files,omitempty"`
}

// Scoring holds the chain-scoring weights.
type Scoring struct {
	AffilWeight  *float64 `yaml:"affil_weight,omitempty"`
	DetailWeight *float64 `yaml:"detail_weight,omitempty"`
	OrcidStep    *float64 `yaml:"orcid_step,omitempty"`
}

// Server holds the HTTP shell options.
type Server struct {
	Address string `yaml:"address,omitempty"`
}

// Defaults applied when not configured.
const (
	DefaultBackend       = BackendFS
	DefaultAddress       = ":8080"
	DefaultMaxIterations = 9
	DefaultAffilWeight   = 0.3
	DefaultDetailWeight  = 0.1
	DefaultOrcidStep     = 0.08
)

// Recognized cache backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Validation bounds for configuration values.
const (
	MinMaxIterations = 1
	MaxMaxIterations = 100
)

// Config contains configuration for appa.
type Config struct {
	ADS     ADS          `yaml:"ads,omitempty"`
	Cache   CacheBacking `yaml:"cache,omitempty"`
	Search  Search       `yaml:"search,omitempty"`
	Scoring Scoring      `yaml:"scoring,omitempty"`
	Server  Server       `yaml:"server,omitempty"`

	// path is the file this config was loaded from (for Save)
	path  string
	scope Scope
}

// Validate checks that all configured values are within acceptable bounds.
// Returns nil if all values are valid or not set (defaults will be used).
func (c *Config) Validate() error {
	if b := c.Cache.Backend; b != "" && b != BackendFS && b != BackendSQLite {
		return fmt.Errorf("%w: cache.backend must be %q or %q, got %q",
			ErrInvalidValue, BackendFS, BackendSQLite, b)
	}
	if c.Search.MaxIterations != nil {
		v := *c.Search.MaxIterations
		if v < MinMaxIterations || v > MaxMaxIterations {
			return fmt.Errorf("%w: search.max_iterations must be between %d and %d, got %d",
				ErrInvalidValue, MinMaxIterations, MaxMaxIterations, v)
		}
	}
	for _, w := range []struct {
		key   string
		value *float64
	}{
		{"scoring.affil_weight", c.Scoring.AffilWeight},
		{"scoring.detail_weight", c.Scoring.DetailWeight},
		{"scoring.orcid_step", c.Scoring.OrcidStep},
	} {
		if w.value != nil && (*w.value < 0 || *w.value > 1) {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %g",
				ErrInvalidValue, w.key, *w.value)
		}
	}
	return nil
}

// Token returns the ADS API token, falling back to $ADS_TOKEN.
func (c *Config) Token() string {
	if c.ADS.Token != "" {
		return c.ADS.Token
	}
	return os.Getenv(EnvToken)
}

// Backend returns the configured cache backend (defaults to "fs").
func (c *Config) Backend() string {
	if c.Cache.Backend == "" {
		return DefaultBackend
	}
	return c.Cache.Backend
}

// CacheLocation returns where the backing cache lives: a directory for the
// fs backend, a database file for sqlite. Defaults live under ~/.appa.
func (c *Config) CacheLocation() string {
	if c.Cache.Location != "" {
		return c.Cache.Location
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if c.Backend() == BackendSQLite {
		return filepath.Join(home, ".appa", "cache.db")
	}
	return filepath.Join(home, ".appa", "cache")
}

// MaxIterations returns the path-finding iteration cap (defaults to 9).
func (c *Config) MaxIterations() int {
	if c.Search.MaxIterations == nil {
		return DefaultMaxIterations
	}
	return *c.Search.MaxIterations
}

// AffilWeight returns the affiliation-overlap scoring weight.
func (c *Config) AffilWeight() float64 {
	if c.Scoring.AffilWeight == nil {
		return DefaultAffilWeight
	}
	return *c.Scoring.AffilWeight
}

// DetailWeight returns the name-detail scoring weight.
func (c *Config) DetailWeight() float64 {
	if c.Scoring.DetailWeight == nil {
		return DefaultDetailWeight
	}
	return *c.Scoring.DetailWeight
}

// OrcidStep returns the per-provenance-level ORCID score reduction.
func (c *Config) OrcidStep() float64 {
	if c.Scoring.OrcidStep == nil {
		return DefaultOrcidStep
	}
	return *c.Scoring.OrcidStep
}

// Address returns the HTTP listen address (defaults to ":8080").
func (c *Config) Address() string {
	if c.Server.Address == "" {
		return DefaultAddress
	}
	return c.Server.Address
}

// SynonymFiles returns the synonym files to load at startup.
func (c *Config) SynonymFiles() []string {
	return c.Search.SynonymFiles
}

// LocalPath returns the path to the local (directory) config file.
func LocalPath() string {
	return filepath.Join(".appa", "config.yaml")
}

// GlobalPath returns the path to the global (user) config file: ~/.appa/config.yaml
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".appa", "config.yaml")
}

// Load reads configuration: uses local if it exists, otherwise global.
func Load() (*Config, error) {
	// Check if local config exists
	if _, err := os.Stat(LocalPath()); err == nil {
		return LoadScope(ScopeLocal)
	}
	// Fall back to global
	return LoadScope(ScopeGlobal)
}

// LoadScope reads configuration from a specific scope.
func LoadScope(scope Scope) (*Config, error) {
	path := pathForScope(scope)
	if path == "" {
		return &Config{scope: scope}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{path: path, scope: scope}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed config file %s: %w\n\nTo fix: edit the file to correct the YAML syntax, or delete it to use defaults", path, err)
	}
	cfg.path = path
	cfg.scope = scope

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Scope returns which scope this config was loaded from.
func (c *Config) Scope() Scope {
	return c.scope
}

// Save writes the configuration to its original location.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = pathForScope(c.scope)
	}
	if c.path == "" {
		return ErrNoConfigPath
	}
	return c.saveToPath(c.path)
}

// SaveScope writes the configuration to the specified scope.
func (c *Config) SaveScope(scope Scope) error {
	path := pathForScope(scope)
	if path == "" {
		return ErrNoConfigPath
	}
	return c.saveToPath(path)
}

// saveToPath writes configuration to a specific filesystem path.
// Creates parent directories as needed with mode 0755.
func (c *Config) saveToPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// pathForScope returns the filesystem path for a given scope.
func pathForScope(scope Scope) string {
	switch scope {
	case ScopeLocal:
		return LocalPath()
	case ScopeGlobal:
		return GlobalPath()
	default:
		return ""
	}
}
