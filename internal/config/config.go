package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultEngineBinary   = "octave"
	defaultCommandTimeout = 0 * time.Second
	defaultStartupTimeout = 60 * time.Second
	defaultShutdownGrace  = 5 * time.Second
	defaultProbeTTL       = 5 * time.Minute
	defaultPromptPattern  = `(?m)^\s*(>>|octave(:\d+)?>)`
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	EngineBinary string
	// EngineArgs are appended after the built-in mode flags.
	EngineArgs []string
	WorkDir    string
	// Env overrides are layered over the parent environment at spawn time.
	Env         map[string]string
	SearchPaths []string
	// CommandTimeout of zero disables per-command deadlines.
	CommandTimeout time.Duration
	StartupTimeout time.Duration
	ShutdownGrace  time.Duration
	ProbeTTL       time.Duration
	PromptPattern  string
}

type fileConfig struct {
	EngineBinary   *string           `toml:"engine_binary"`
	EngineArgs     []string          `toml:"engine_args"`
	WorkDir        *string           `toml:"working_dir"`
	Env            map[string]string `toml:"env"`
	SearchPaths    []string          `toml:"search_paths"`
	CommandTimeout *string           `toml:"command_timeout"`
	StartupTimeout *string           `toml:"startup_timeout"`
	ShutdownGrace  *string           `toml:"shutdown_grace"`
	ProbeTTL       *string           `toml:"probe_ttl"`
	PromptPattern  *string           `toml:"prompt_pattern"`
}

// Load reads config from ~/.mlbridge/config.toml and overlays a project-local
// .mlbridge/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".mlbridge", "config.toml"),
		filepath.Join(workingDir, ".mlbridge", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		EngineBinary:   defaultEngineBinary,
		EngineArgs:     []string{},
		Env:            map[string]string{},
		SearchPaths:    []string{},
		CommandTimeout: defaultCommandTimeout,
		StartupTimeout: defaultStartupTimeout,
		ShutdownGrace:  defaultShutdownGrace,
		ProbeTTL:       defaultProbeTTL,
		PromptPattern:  defaultPromptPattern,
	}
}

// Validate rejects configurations the session layer cannot honor.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if strings.TrimSpace(c.EngineBinary) == "" {
		return errors.New("engine_binary must not be empty")
	}
	if c.CommandTimeout < 0 {
		return errors.New("command_timeout must not be negative")
	}
	if c.StartupTimeout <= 0 {
		return errors.New("startup_timeout must be > 0")
	}
	if c.ShutdownGrace <= 0 {
		return errors.New("shutdown_grace must be > 0")
	}
	if _, err := regexp.Compile(c.PromptPattern); err != nil {
		return fmt.Errorf("compile prompt_pattern: %w", err)
	}
	return nil
}

// CompiledPromptPattern returns the ready-prompt matcher. Validate must have
// accepted the pattern first.
func (c *Config) CompiledPromptPattern() *regexp.Regexp {
	return regexp.MustCompile(c.PromptPattern)
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyScalarOverrides(cfg, decoded)
	return applyDurationOverrides(cfg, decoded, path)
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.EngineBinary != nil {
		cfg.EngineBinary = strings.TrimSpace(*decoded.EngineBinary)
	}
	if decoded.EngineArgs != nil {
		cfg.EngineArgs = append([]string{}, decoded.EngineArgs...)
	}
	if decoded.WorkDir != nil {
		cfg.WorkDir = strings.TrimSpace(*decoded.WorkDir)
	}
	if decoded.SearchPaths != nil {
		cfg.SearchPaths = append([]string{}, decoded.SearchPaths...)
	}
	if decoded.PromptPattern != nil {
		cfg.PromptPattern = *decoded.PromptPattern
	}
	for key, value := range decoded.Env {
		if cfg.Env == nil {
			cfg.Env = map[string]string{}
		}
		cfg.Env[key] = value
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	overrides := []struct {
		raw    *string
		key    string
		target *time.Duration
	}{
		{decoded.CommandTimeout, "command_timeout", &cfg.CommandTimeout},
		{decoded.StartupTimeout, "startup_timeout", &cfg.StartupTimeout},
		{decoded.ShutdownGrace, "shutdown_grace", &cfg.ShutdownGrace},
		{decoded.ProbeTTL, "probe_ttl", &cfg.ProbeTTL},
	}
	for _, override := range overrides {
		if override.raw == nil {
			continue
		}
		parsed, err := parseDuration(*override.raw, override.key, path)
		if err != nil {
			return err
		}
		*override.target = parsed
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}
