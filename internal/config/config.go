// Package config handles ralph configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for ralph.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Server settings for the daemon's HTTP API
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Agent settings for the external coding agent
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Loop settings
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`
}

// GlobalConfig contains global ralph settings.
type GlobalConfig struct {
	// DataDir is where ralph stores its data (default: ~/.local/share/ralph).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/ralph).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ServerConfig contains settings for the daemon's HTTP API.
type ServerConfig struct {
	// ListenAddr is the address the API server binds to.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// BasePath prefixes all API routes.
	BasePath string `yaml:"base_path" mapstructure:"base_path"`

	// SweepInterval is how often expired dismissals are purged.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// AgentConfig contains settings for invoking the coding agent.
type AgentConfig struct {
	// CommandTemplate is the agent invocation run through bash -lc.
	// With prompt_mode arg, {prompt} is substituted in.
	CommandTemplate string `yaml:"command_template" mapstructure:"command_template"`

	// PromptMode selects prompt delivery: env, stdin, or arg.
	PromptMode string `yaml:"prompt_mode" mapstructure:"prompt_mode"`

	// AttemptTimeout bounds a single agent attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`

	// TailLines is how many trailing output lines are kept per attempt.
	TailLines int `yaml:"tail_lines" mapstructure:"tail_lines"`
}

// LoopConfig contains loop runtime settings.
type LoopConfig struct {
	// PollInterval is how often a paused loop re-checks its status.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// ProjectRoot is where per-project work dirs live when a loop does
	// not name one explicitly (default: <data_dir>/projects).
	ProjectRoot string `yaml:"project_root" mapstructure:"project_root"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "ralph"),
			ConfigDir: filepath.Join(homeDir, ".config", "ralph"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/ralph.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Server: ServerConfig{
			ListenAddr:    "127.0.0.1:7171",
			BasePath:      "/v0",
			SweepInterval: 1 * time.Hour,
		},
		Agent: AgentConfig{
			CommandTemplate: `claude -p "{prompt}"`,
			PromptMode:      "arg",
			AttemptTimeout:  30 * time.Minute,
			TailLines:       60,
		},
		Loop: LoopConfig{
			PollInterval: 1 * time.Second,
			ProjectRoot:  "", // Will be set to DataDir/projects
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Global.DataDir) == "" {
		return fmt.Errorf("global.data_dir is required")
	}
	if strings.TrimSpace(c.Global.ConfigDir) == "" {
		return fmt.Errorf("global.config_dir is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must be zero or greater")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console, json")
	}

	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	if c.Server.SweepInterval < 1*time.Minute {
		return fmt.Errorf("server.sweep_interval must be at least 1 minute")
	}

	if strings.TrimSpace(c.Agent.CommandTemplate) == "" {
		return fmt.Errorf("agent.command_template is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Agent.PromptMode)) {
	case "env", "stdin", "arg":
	default:
		return fmt.Errorf("agent.prompt_mode must be one of env, stdin, arg")
	}
	if c.Agent.AttemptTimeout <= 0 {
		return fmt.Errorf("agent.attempt_timeout must be greater than 0")
	}
	if c.Agent.TailLines < 1 {
		return fmt.Errorf("agent.tail_lines must be at least 1")
	}

	if c.Loop.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("loop.poll_interval must be at least 100ms")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
		c.ProjectRoot(),
		c.MemoryDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "ralph.db")
}

// ProjectRoot returns the directory holding per-project work dirs.
func (c *Config) ProjectRoot() string {
	if c.Loop.ProjectRoot != "" {
		return c.Loop.ProjectRoot
	}
	return filepath.Join(c.Global.DataDir, "projects")
}

// MemoryDir returns the directory holding per-project memory files.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.Global.DataDir, "memory")
}
