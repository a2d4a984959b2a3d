// Package config loads hexworld settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexworld/internal/world"
)

// Environment variables that override file settings.
const (
	EnvAdminKey = "HEXWORLD_ADMIN_KEY"
	EnvDBPath   = "HEXWORLD_DB"
	EnvSeed     = "HEXWORLD_SEED"
	EnvPort     = "HEXWORLD_PORT"
	EnvCORS     = "HEXWORLD_CORS_ORIGINS" // comma-separated, added to the file's list
)

type Config struct {
	ChunkSize     int                  `yaml:"chunk_size"`
	Seed          *uint64              `yaml:"seed,omitempty"` // nil draws a random seed
	DBPath        string               `yaml:"db_path"`
	Port          int                  `yaml:"port"`
	AdminKey      string               `yaml:"admin_key"`
	PathBudget    int                  `yaml:"path_budget"`
	ExtendedRules bool                 `yaml:"extended_rules"`
	NoiseSeed     int64                `yaml:"noise_seed"`
	RateLimit     RateLimit            `yaml:"rate_limit"`
	CORSOrigins   []string             `yaml:"cors_origins,omitempty"`
	TemplateDirs  []string             `yaml:"template_dirs,omitempty"`
	AreaTemplates []world.AreaTemplate `yaml:"area_templates,omitempty"`
	LogLevel      string               `yaml:"log_level"`
}

// RateLimit bounds requests per client on the chunk, hex, path and area
// endpoints and on websocket chunk requests.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		ChunkSize:  world.DefaultChunkSize,
		DBPath:     "data/hexworld.db",
		Port:       8080,
		PathBudget: 50000,
		RateLimit:  RateLimit{Requests: 120, Window: time.Minute},
		LogLevel:   "info",
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAdminKey); ok {
		c.AdminKey = v
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup(EnvSeed); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		c.Seed = &seed
	}
	if v, ok := lookup(EnvCORS); ok && v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORSOrigins = append(c.CORSOrigins, origin)
			}
		}
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Port = port
	}
	return nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = d.RateLimit.Requests
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = d.RateLimit.Window
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PathBudget < 0 {
		return errors.New("path_budget must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for _, t := range c.AreaTemplates {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
