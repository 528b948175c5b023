package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefault(t *testing.T) {
	// Use a temp directory as HOME to avoid picking up existing config files
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("LoadDefault() returned nil config")
	}

	// Check some defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected logging.level = 'info', got %q", cfg.Logging.Level)
	}

	if cfg.Database.MaxConnections != 10 {
		t.Errorf("Expected database.max_connections = 10, got %d", cfg.Database.MaxConnections)
	}

	if cfg.Server.BasePath != "/v0" {
		t.Errorf("Expected server.base_path = '/v0', got %q", cfg.Server.BasePath)
	}

	if cfg.Loop.PollInterval != 1*time.Second {
		t.Errorf("Expected loop.poll_interval = 1s, got %s", cfg.Loop.PollInterval)
	}

	if !strings.HasSuffix(cfg.Global.DataDir, filepath.Join(".local", "share", "ralph")) {
		t.Errorf("Unexpected global.data_dir %q", cfg.Global.DataDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: json
database:
  max_connections: 20
agent:
  prompt_mode: stdin
  attempt_timeout: 5m
server:
  listen_addr: "127.0.0.1:9999"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	// Check overridden values
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging.level = 'debug', got %q", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected logging.format = 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Database.MaxConnections != 20 {
		t.Errorf("Expected database.max_connections = 20, got %d", cfg.Database.MaxConnections)
	}

	if cfg.Agent.PromptMode != "stdin" {
		t.Errorf("Expected agent.prompt_mode = 'stdin', got %q", cfg.Agent.PromptMode)
	}

	if cfg.Agent.AttemptTimeout != 5*time.Minute {
		t.Errorf("Expected agent.attempt_timeout = 5m, got %s", cfg.Agent.AttemptTimeout)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Expected server.listen_addr = '127.0.0.1:9999', got %q", cfg.Server.ListenAddr)
	}

	// Check defaults are still applied
	if cfg.Server.BasePath != "/v0" {
		t.Errorf("Expected server.base_path = '/v0', got %q", cfg.Server.BasePath)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("RALPH_LOGGING_LEVEL", "warn")
	t.Setenv("RALPH_DATABASE_MAX_CONNECTIONS", "5")
	t.Setenv("RALPH_AGENT_TAIL_LINES", "120")

	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected logging.level = 'warn' from env, got %q", cfg.Logging.Level)
	}

	if cfg.Database.MaxConnections != 5 {
		t.Errorf("Expected database.max_connections = 5 from env, got %d", cfg.Database.MaxConnections)
	}

	if cfg.Agent.TailLines != 120 {
		t.Errorf("Expected agent.tail_lines = 120 from env, got %d", cfg.Agent.TailLines)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.Global.DataDir = "" },
			wantErr: "global.data_dir",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.Database.MaxConnections = 0 },
			wantErr: "database.max_connections",
		},
		{
			name:    "base path without slash",
			mutate:  func(c *Config) { c.Server.BasePath = "v0" },
			wantErr: "server.base_path",
		},
		{
			name:    "sweep interval too small",
			mutate:  func(c *Config) { c.Server.SweepInterval = 10 * time.Second },
			wantErr: "server.sweep_interval",
		},
		{
			name:    "empty command template",
			mutate:  func(c *Config) { c.Agent.CommandTemplate = "  " },
			wantErr: "agent.command_template",
		},
		{
			name:    "bad prompt mode",
			mutate:  func(c *Config) { c.Agent.PromptMode = "clipboard" },
			wantErr: "agent.prompt_mode",
		},
		{
			name:    "zero attempt timeout",
			mutate:  func(c *Config) { c.Agent.AttemptTimeout = 0 },
			wantErr: "agent.attempt_timeout",
		},
		{
			name:    "poll interval too small",
			mutate:  func(c *Config) { c.Loop.PollInterval = 10 * time.Millisecond },
			wantErr: "loop.poll_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabasePathFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Global.DataDir = "/data/ralph"
	cfg.Database.Path = ""

	if got := cfg.DatabasePath(); got != filepath.Join("/data/ralph", "ralph.db") {
		t.Errorf("DatabasePath() = %q", got)
	}

	cfg.Database.Path = "/elsewhere/custom.db"
	if got := cfg.DatabasePath(); got != "/elsewhere/custom.db" {
		t.Errorf("DatabasePath() = %q, want explicit path", got)
	}
}

func TestProjectRootAndMemoryDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Global.DataDir = "/data/ralph"

	if got := cfg.ProjectRoot(); got != filepath.Join("/data/ralph", "projects") {
		t.Errorf("ProjectRoot() = %q", got)
	}
	if got := cfg.MemoryDir(); got != filepath.Join("/data/ralph", "memory") {
		t.Errorf("MemoryDir() = %q", got)
	}

	cfg.Loop.ProjectRoot = "/src"
	if got := cfg.ProjectRoot(); got != "/src" {
		t.Errorf("ProjectRoot() = %q, want explicit root", got)
	}
}

func TestExpandTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if got := expandTilde("~/data"); got != filepath.Join(tmpHome, "data") {
		t.Errorf("expandTilde(~/data) = %q", got)
	}
	if got := expandTilde("/abs/path"); got != "/abs/path" {
		t.Errorf("expandTilde(/abs/path) = %q", got)
	}
	if got := expandTilde(""); got != "" {
		t.Errorf("expandTilde(\"\") = %q", got)
	}
}
