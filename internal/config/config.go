// Package config handles loading and managing tilevault configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/wesm/tilevault/internal/grouping"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort        int     `toml:"api_port"`         // HTTP server port (default: 8080)
	BindAddr       string  `toml:"bind_addr"`        // Listen address (default: 127.0.0.1)
	APIKey         string  `toml:"api_key"`          // API authentication key
	RateLimitRPS   float64 `toml:"rate_limit_rps"`   // Per-client request rate
	RateLimitBurst int     `toml:"rate_limit_burst"` // Per-client burst

	CORSOrigins     []string `toml:"cors_origins"`     // Allowed origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentials
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// IsLoopback reports whether the server binds only to the local machine.
func (s ServerConfig) IsLoopback() bool {
	addr := s.BindAddr
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure refuses to expose an unauthenticated API beyond loopback.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey == "" && !s.IsLoopback() {
		return fmt.Errorf("refusing to bind %s without [server] api_key", s.BindAddr)
	}
	return nil
}

// ReviewConfig holds the reviewer identity and the default grouping.
type ReviewConfig struct {
	Reviewer      string `toml:"reviewer"`
	Collaborative bool   `toml:"collaborative"`
	GroupBy       string `toml:"group_by"`   // path, hash_set, tags, category, mime_type
	SortBy        string `toml:"sort_by"`    // priority, size, value, none
	SortOrder     string `toml:"sort_order"` // asc, desc
}

// RegroupConfig schedules a forced refresh of the group views.
type RegroupConfig struct {
	Schedule string `toml:"schedule"` // Cron expression; empty disables
}

// SourceConfig describes a data source to ingest.
type SourceConfig struct {
	Name     string `toml:"name"`
	Path     string `toml:"path"`
	Schedule string `toml:"schedule"` // Cron expression for rescans
	Watch    bool   `toml:"watch"`    // Follow filesystem changes while serving
	Enabled  bool   `toml:"enabled"`
}

// Config represents the tilevault configuration.
type Config struct {
	Data    DataConfig     `toml:"data"`
	Review  ReviewConfig   `toml:"review"`
	Server  ServerConfig   `toml:"server"`
	Regroup RegroupConfig  `toml:"regroup"`
	Sources []SourceConfig `toml:"sources"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// DefaultHome returns the default tilevault home directory.
// Respects TILEVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("TILEVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tilevault"
	}
	return filepath.Join(home, ".tilevault")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newConfig(DefaultHome())
}

func newConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Review: ReviewConfig{
			GroupBy:   string(grouping.AttrPath),
			SortBy:    grouping.ByPriority.Name(),
			SortOrder: "asc",
		},
		Server: ServerConfig{
			APIPort:        8080,
			BindAddr:       "127.0.0.1",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Sources: []SourceConfig{},
	}
}

// Load reads the configuration.
//
// With an explicit path the file must exist and its directory becomes the
// home directory. Otherwise config.toml is read from homeDir (or
// DefaultHome when homeDir is empty) if present.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	switch {
	case explicit:
		path = expandPath(path)
		if homeDir == "" {
			homeDir = filepath.Dir(path)
		}
	case homeDir != "":
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	default:
		homeDir = DefaultHome()
		path = filepath.Join(homeDir, "config.toml")
	}
	homeDir = expandPath(homeDir)

	cfg := newConfig(homeDir)
	cfg.ConfigPath = path

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	for i := range cfg.Sources {
		cfg.Sources[i].Path = expandPath(cfg.Sources[i].Path)
	}
	return cfg, nil
}

// decodeError adds a hint for the most common TOML mistake: Windows paths
// in double-quoted strings.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w (hint: use forward slashes or single quotes for paths with backslashes)", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// DatabaseDSN returns the path (or URL) of the catalog database.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "tilevault.db")
}

// GroupConfig converts the [review] section into a grouping configuration.
func (c *Config) GroupConfig() (grouping.GroupConfig, error) {
	attr, err := grouping.ParseAttribute(c.Review.GroupBy)
	if err != nil {
		return grouping.GroupConfig{}, err
	}
	sortBy, err := grouping.ParseSortBy(c.Review.SortBy)
	if err != nil {
		return grouping.GroupConfig{}, err
	}
	order, err := grouping.ParseSortOrder(c.Review.SortOrder)
	if err != nil {
		return grouping.GroupConfig{}, err
	}
	return grouping.GroupConfig{
		Attribute:     attr,
		SortBy:        sortBy,
		Order:         order,
		Collaborative: c.Review.Collaborative,
	}, nil
}

// ScheduledSources returns enabled sources with a rescan schedule.
func (c *Config) ScheduledSources() []SourceConfig {
	var scheduled []SourceConfig
	for _, src := range c.Sources {
		if src.Enabled && src.Schedule != "" {
			scheduled = append(scheduled, src)
		}
	}
	return scheduled
}

// GetSource returns a copy of the named source, or nil.
func (c *Config) GetSource(name string) *SourceConfig {
	for _, src := range c.Sources {
		if src.Name == name {
			s := src
			return &s
		}
	}
	return nil
}

// Validate checks grouping names, schedules and sources.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.GroupConfig(); err != nil {
		errs = append(errs, fmt.Errorf("[review]: %w", err))
	}
	if c.Regroup.Schedule != "" {
		if _, err := cron.ParseStandard(c.Regroup.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("[regroup] schedule %q: %w", c.Regroup.Schedule, err))
		}
	}
	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("[server] api_port %d out of range", c.Server.APIPort))
	}
	if err := c.Server.ValidateSecure(); err != nil {
		errs = append(errs, fmt.Errorf("[server]: %w", err))
	}
	names := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		} else if names[src.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
		}
		names[src.Name] = true
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: path is required", i))
		}
		if src.Schedule != "" {
			if _, err := cron.ParseStandard(src.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("sources[%d] schedule %q: %w", i, src.Schedule, err))
			}
		}
	}
	return errors.Join(errs...)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
