// Package config loads xavier's settings from defaults, an optional YAML
// file, and the environment. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holon-run/xavier/pkg/agent"
	"github.com/holon-run/xavier/pkg/git"
	holonlog "github.com/holon-run/xavier/pkg/log"
	"github.com/holon-run/xavier/pkg/pathutil"
	"github.com/holon-run/xavier/pkg/redact"
)

// Environment variables read by Load.
const (
	EnvThreadRoot   = "THREAD_WORKDIR"
	EnvAddr         = "XAVIER_ADDR"
	EnvAgentPath    = "XAVIER_AGENT_PATH"
	EnvStreamOutput = "XAVIER_AGENT_STREAM_OUTPUT"
	EnvLogLevel     = "XAVIER_LOG_LEVEL"
	EnvLogFormat    = "XAVIER_LOG_FORMAT"
)

const (
	// DefaultAddr is the listen address of the HTTP server.
	DefaultAddr = ":8787"
	// DefaultSweepInterval is the period of the background sweeper.
	DefaultSweepInterval = 10 * time.Minute
	// DefaultFile is looked up in the working directory when no file is named.
	DefaultFile = "xavier.yaml"
)

// Config is the resolved process configuration.
type Config struct {
	Addr          string        `yaml:"addr"`
	ThreadRoot    string        `yaml:"thread_root"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Log           LogConfig     `yaml:"log"`
	Agent         AgentConfig   `yaml:"agent"`
	Git           GitConfig     `yaml:"git"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentConfig locates the coding agent.
type AgentConfig struct {
	Path string `yaml:"path"`
	// StreamOutput forwards agent output lines to clients as status events.
	StreamOutput bool `yaml:"stream_output"`
	// Redact masks secrets in forwarded output: off, basic or aggressive.
	Redact string `yaml:"redact"`
}

// GitConfig tunes repository checkout.
type GitConfig struct {
	// CloneDepth limits clone history; 0 clones everything.
	CloneDepth int `yaml:"clone_depth"`
}

// DefaultThreadRoot returns the thread root used when none is configured.
func DefaultThreadRoot() string {
	return filepath.Join(os.TempDir(), "xavier-threads")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:          DefaultAddr,
		ThreadRoot:    DefaultThreadRoot(),
		SweepInterval: DefaultSweepInterval,
		Log: LogConfig{
			Level:  string(holonlog.LevelProgress),
			Format: holonlog.FormatConsole,
		},
		Agent: AgentConfig{Path: agent.DefaultPath(), Redact: string(redact.ModeBasic)},
		Git:   GitConfig{CloneDepth: git.DefaultCloneDepth},
	}
}

// Load builds the configuration from defaults, the YAML file at path, and
// the environment, in increasing precedence. An empty path reads
// DefaultFile if it exists; a named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvThreadRoot, &c.ThreadRoot},
		{EnvAddr, &c.Addr},
		{EnvAgentPath, &c.Agent.Path},
		{EnvLogLevel, &c.Log.Level},
		{EnvLogFormat, &c.Log.Format},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}
	if v, ok := lookup(EnvStreamOutput); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvStreamOutput, v, err)
		}
		c.Agent.StreamOutput = b
	}
	return nil
}

func (c *Config) expandPaths() {
	c.ThreadRoot = pathutil.ExpandHome(c.ThreadRoot)
	c.Agent.Path = pathutil.ExpandHome(c.Agent.Path)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.ThreadRoot == "" {
		return fmt.Errorf("thread_root is required")
	}
	if pathutil.IsFilesystemRoot(c.ThreadRoot) {
		return fmt.Errorf("thread_root must not be the filesystem root")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && pathutil.Contains(c.ThreadRoot, home) {
		return fmt.Errorf("thread_root %s must not contain the home directory", c.ThreadRoot)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	if c.Git.CloneDepth < 0 {
		return fmt.Errorf("git.clone_depth must not be negative")
	}
	if c.Agent.Path == "" {
		return fmt.Errorf("agent.path is required")
	}
	if _, err := redact.ParseMode(c.Agent.Redact); err != nil {
		return fmt.Errorf("agent.redact: %w", err)
	}
	if !holonlog.ValidLevel(holonlog.LogLevel(c.Log.Level)) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if !holonlog.ValidFormat(c.Log.Format) {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Logger returns the logger settings.
func (c Config) Logger() holonlog.Config {
	return holonlog.Config{
		Level:  holonlog.LogLevel(c.Log.Level),
		Format: c.Log.Format,
	}
}
