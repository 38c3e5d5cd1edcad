package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Fullex26/autowatch/internal/autowatch"
	"github.com/Fullex26/autowatch/internal/store"
)

const (
	DefaultConfigPath = "/etc/autowatch/config.yaml"
	DefaultEnvPath    = "/etc/autowatch/env"
)

type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	Registry RegistryConfig `yaml:"registry"`
	Jira     JiraConfig     `yaml:"jira"`
	Server   ServerConfig   `yaml:"server"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Log      LogConfig      `yaml:"log"`
}

type ListenerConfig struct {
	Name            string `yaml:"name"`
	IncludeProjects string `yaml:"include_projects"` // comma-separated project keys
	ExcludeProjects string `yaml:"exclude_projects"` // comma-separated project keys
}

// Params returns the listener parameters under the names the listener accepts
func (l ListenerConfig) Params() map[string]string {
	return map[string]string{
		autowatch.ParamInclude: l.IncludeProjects,
		autowatch.ParamExclude: l.ExcludeProjects,
	}
}

type RegistryConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "jira"
	DBPath  string `yaml:"db_path"`
}

type JiraConfig struct {
	BaseURL string `yaml:"base_url"`
	User    string `yaml:"user"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"` // default: "10s"
}

type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	Secret       string `yaml:"secret"` // shared secret expected on webhook calls, optional
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type DedupConfig struct {
	Cooldown string `yaml:"cooldown"` // how long a delivery id is remembered
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// LoadEnvFile loads KEY=value pairs into the environment. Variables that are
// already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Load reads and parses the config file, expanding env vars
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables inside values, so expanded text is never
	// parsed as YAML
	expandScalars(&root)

	cfg := DefaultConfig()
	if root.Kind != 0 {
		if err := root.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func expandScalars(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = os.ExpandEnv(n.Value)
		return
	}
	for _, c := range n.Content {
		expandScalars(c)
	}
}

// DefaultConfig returns sane defaults
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Name: autowatch.ListenerName,
		},
		Registry: RegistryConfig{
			Backend: "sqlite",
			DBPath:  store.DefaultDBPath,
		},
		Jira: JiraConfig{
			Timeout: "10s",
		},
		Server: ServerConfig{
			ListenAddr:   ":8085",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Dedup: DedupConfig{
			Cooldown: "10m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the config for errors
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listener.Name) == "" {
		return fmt.Errorf("listener name is required")
	}

	switch strings.ToLower(c.Registry.Backend) {
	case "sqlite":
	case "jira":
		if c.Jira.BaseURL == "" {
			return fmt.Errorf("jira base_url is required when registry backend is jira")
		}
		if c.Jira.Token == "" {
			return fmt.Errorf("jira token is required when registry backend is jira")
		}
	default:
		return fmt.Errorf("invalid registry backend: %s (must be sqlite or jira)", c.Registry.Backend)
	}

	if c.Registry.DBPath == "" {
		return fmt.Errorf("registry db_path is required")
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen_addr is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// UsesJira reports whether watchers live in Jira rather than the local database
func (c *Config) UsesJira() bool {
	return strings.EqualFold(c.Registry.Backend, "jira")
}

// Duration parses a duration setting, returning fallback when empty or malformed
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
