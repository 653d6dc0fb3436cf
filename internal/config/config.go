// Package config loads the platform configuration: module definitions,
// branch routing, security policy (secret fields and locked tables), and the
// runtime knobs for caching and event archival.
//
// Configuration is a single YAML document. A handful of operational settings
// can be overridden through MODSTORE_* environment variables so deployments
// can tune archival without editing the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownModule is returned when a module ID is not present in the
// modules section of the configuration.
var ErrUnknownModule = fmt.Errorf("unknown module")

// Defaults applied when the YAML omits a value.
const (
	DefaultCacheTTL        = 1500 * time.Millisecond
	MinCacheTTL            = 250 * time.Millisecond
	DefaultArchiveInterval = 5 * time.Minute
	MinArchiveInterval     = 15 * time.Second
)

// ModuleDefinition describes one module: its required tables and the
// relative/central paths for schema, seed, live document, and history.
type ModuleDefinition struct {
	Label              string   `yaml:"label"`
	Tables             []string `yaml:"tables"`
	SchemaPath         string   `yaml:"schema_path"`          // relative to the module dir
	SchemaFallbackPath string   `yaml:"schema_fallback_path"` // central schema, relative to root
	SeedPath           string   `yaml:"seed_path"`            // relative to the module dir
	SeedFallbackPath   string   `yaml:"seed_fallback_path"`   // central seed, relative to root
	LivePath           string   `yaml:"live_path"`            // relative to the module dir
	HistoryPath        string   `yaml:"history_path"`         // relative to the module dir
}

// BranchEntry is an explicit branch-to-modules assignment.
type BranchEntry struct {
	Label   string   `yaml:"label"`
	Modules []string `yaml:"modules"`
}

// Pattern assigns modules to every branch ID matching a regular expression.
type Pattern struct {
	Match   string   `yaml:"match"`
	Modules []string `yaml:"modules"`
}

// BranchConfig resolves the module list for a branch: explicit entry first,
// then the first matching pattern, then the defaults.
type BranchConfig struct {
	Branches map[string]BranchEntry `yaml:"branches"`
	Patterns []Pattern              `yaml:"patterns"`
	Defaults []string               `yaml:"defaults"`
}

// SecurityConfig lists per-table secret fields and fully locked tables.
// Table names are matched case-insensitively.
type SecurityConfig struct {
	SecretFields map[string][]string `yaml:"secret_fields"`
	LockedTables []string            `yaml:"locked_tables"`
}

// ArchiveConfig configures the event journal sink.
type ArchiveConfig struct {
	Disabled   bool          `yaml:"disabled"`
	Interval   time.Duration `yaml:"-"`
	IntervalMS int64         `yaml:"interval_ms"`
	Driver     string        `yaml:"driver"` // "pgx" or "sqlite3"
	DSN        string        `yaml:"dsn"`
}

// Config is the root configuration document.
type Config struct {
	RootDir     string                       `yaml:"root_dir"`
	BranchesDir string                       `yaml:"branches_dir"`
	ServerID    string                       `yaml:"server_id"`
	CacheTTL    time.Duration                `yaml:"-"`
	CacheTTLMS  int64                        `yaml:"cache_ttl_ms"`
	Modules     map[string]*ModuleDefinition `yaml:"modules"`
	Branches    BranchConfig                 `yaml:"branches"`
	Security    SecurityConfig               `yaml:"security"`
	Archive     ArchiveConfig                `yaml:"archive"`
}

// Load reads and normalizes the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	return cfg, nil
}

// Default returns a configuration with every knob at its default, rooted at
// rootDir. Used by tests and by commands operating on ad-hoc data dirs.
func Default(rootDir string) *Config {
	cfg := &Config{RootDir: rootDir}
	cfg.applyDefaults(rootDir)
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.RootDir == "" {
		c.RootDir = baseDir
	}
	if !filepath.IsAbs(c.RootDir) {
		c.RootDir = filepath.Join(baseDir, c.RootDir)
	}
	if c.BranchesDir == "" {
		c.BranchesDir = filepath.Join(c.RootDir, "data", "branches")
	} else if !filepath.IsAbs(c.BranchesDir) {
		c.BranchesDir = filepath.Join(c.RootDir, c.BranchesDir)
	}
	if c.ServerID == "" {
		c.ServerID = fmt.Sprintf("ws-%d", time.Now().UnixMilli())
	}
	c.CacheTTL = millisOrDefault(c.CacheTTLMS, DefaultCacheTTL, MinCacheTTL)
	c.Archive.Interval = millisOrDefault(c.Archive.IntervalMS, DefaultArchiveInterval, MinArchiveInterval)
	if c.Archive.Driver == "" {
		c.Archive.Driver = "pgx"
	}
	if c.Modules == nil {
		c.Modules = map[string]*ModuleDefinition{}
	}
	for _, def := range c.Modules {
		def.Tables = normalizeTableNames(def.Tables)
	}
	if c.Branches.Branches == nil {
		c.Branches.Branches = map[string]BranchEntry{}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MODSTORE_JOURNAL_DSN"); v != "" {
		c.Archive.DSN = v
	}
	if v := os.Getenv("MODSTORE_JOURNAL_DRIVER"); v != "" {
		c.Archive.Driver = v
	}
	if isTruthy(os.Getenv("MODSTORE_ARCHIVE_DISABLED")) {
		c.Archive.Disabled = true
	}
	if v := os.Getenv("MODSTORE_ARCHIVE_INTERVAL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Archive.Interval = millisOrDefault(ms, DefaultArchiveInterval, MinArchiveInterval)
		}
	}
	if v := os.Getenv("MODSTORE_CACHE_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CacheTTL = millisOrDefault(ms, DefaultCacheTTL, MinCacheTTL)
		}
	}
	if v := os.Getenv("MODSTORE_SERVER_ID"); v != "" {
		c.ServerID = v
	}
}

// Module returns the definition for moduleID or ErrUnknownModule.
func (c *Config) Module(moduleID string) (*ModuleDefinition, error) {
	def, ok := c.Modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("module %q not defined in configuration: %w", moduleID, ErrUnknownModule)
	}
	return def, nil
}

// normalizeTableNames trims, deduplicates, and drops empty entries while
// preserving first-seen order.
func normalizeTableNames(input []string) []string {
	seen := make(map[string]struct{}, len(input))
	out := make([]string, 0, len(input))
	for _, entry := range input {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func millisOrDefault(ms int64, def, min time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	d := time.Duration(ms) * time.Millisecond
	if d < min {
		return min
	}
	return d
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
