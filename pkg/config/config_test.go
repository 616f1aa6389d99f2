package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvThreadRoot, EnvAddr, EnvAgentPath, EnvStreamOutput, EnvLogLevel, EnvLogFormat} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xavier.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != DefaultAddr {
		t.Fatalf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.ThreadRoot != DefaultThreadRoot() {
		t.Fatalf("ThreadRoot = %q, want %q", cfg.ThreadRoot, DefaultThreadRoot())
	}
	if cfg.SweepInterval != DefaultSweepInterval || cfg.Git.CloneDepth != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if filepath.Base(cfg.Agent.Path) != "amp" {
		t.Fatalf("Agent.Path = %q", cfg.Agent.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
addr: "127.0.0.1:9000"
thread_root: /srv/xavier/threads
sweep_interval: 90s
log:
  level: debug
  format: json
agent:
  path: /opt/amp/bin/amp
  stream_output: true
  redact: aggressive
git:
  clone_depth: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.ThreadRoot != "/srv/xavier/threads" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Fatalf("SweepInterval = %v, want 90s", cfg.SweepInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("Log = %+v", cfg.Log)
	}
	if cfg.Agent.Path != "/opt/amp/bin/amp" || !cfg.Agent.StreamOutput || cfg.Agent.Redact != "aggressive" || cfg.Git.CloneDepth != 0 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "addr: \":1234\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":1234" || cfg.ThreadRoot != DefaultThreadRoot() || cfg.Log.Level != "progress" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "thread_root: /from/file\nlog:\n  level: debug\n")
	t.Setenv(EnvThreadRoot, "/from/env")
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvStreamOutput, "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ThreadRoot != "/from/env" || cfg.Log.Level != "error" || !cfg.Agent.StreamOutput {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvAgentPath, "~/bin/amp")

	cfg, err := Load(writeConfig(t, "thread_root: ~/threads\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Path != filepath.Join(home, "bin", "amp") || cfg.ThreadRoot != filepath.Join(home, "threads") {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  string
	}{
		{
			name:  "missing explicit file",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			want:  "failed to read config",
		},
		{
			name:  "malformed yaml",
			setup: func(t *testing.T) string { return writeConfig(t, "addr: [unterminated\n") },
			want:  "failed to parse config",
		},
		{
			name:  "bad duration",
			setup: func(t *testing.T) string { return writeConfig(t, "sweep_interval: soon\n") },
			want:  "failed to parse config",
		},
		{
			name: "bad stream output env",
			setup: func(t *testing.T) string {
				t.Setenv(EnvStreamOutput, "sometimes")
				return writeConfig(t, "")
			},
			want: EnvStreamOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.setup(t))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", filepath.Join(home, "user"))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty root", func(c *Config) { c.ThreadRoot = "" }, "thread_root is required"},
		{"filesystem root", func(c *Config) { c.ThreadRoot = "/" }, "filesystem root"},
		{"contains home", func(c *Config) { c.ThreadRoot = home }, "home directory"},
		{"negative interval", func(c *Config) { c.SweepInterval = -time.Second }, "sweep_interval"},
		{"negative depth", func(c *Config) { c.Git.CloneDepth = -1 }, "clone_depth"},
		{"no agent", func(c *Config) { c.Agent.Path = "" }, "agent.path"},
		{"bad redaction", func(c *Config) { c.Agent.Redact = "paranoid" }, "agent.redact"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ThreadRoot = filepath.Join(home, "threads")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "debug", Format: "json"}
	lc := cfg.Logger()
	if lc.Level != "debug" || lc.Format != "json" {
		t.Fatalf("Logger() = %+v", lc)
	}
}
