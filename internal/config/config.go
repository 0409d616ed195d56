// Package config loads switchboard settings from defaults, a JSON file and
// SWITCHBOARD_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Proxy       ProxyConfig
	Log         LogConfig
	Intent      IntentConfig
	Confirm     ConfirmConfig
	Tracing     TracingConfig
	Preference  PreferenceConfig
	Access      AccessConfig
	Commands    CommandsConfig
	Pipeline    PipelineConfig
	Maintenance MaintenanceConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type LogConfig struct {
	Level string
}

type IntentConfig struct {
	// RulesPath is an optional YAML rule file, watched for changes.
	RulesPath string
}

type ConfirmConfig struct {
	Timeout              time.Duration
	AlwaysConfirm        bool
	AutoExecuteThreshold float64
}

type TracingConfig struct {
	MaxTraces int
	TTL       time.Duration
}

type PreferenceConfig struct {
	MinUses        int
	MinSuccessRate float64
	TTL            time.Duration
}

type AccessConfig struct {
	// AdminIDs are user ids granted the admin role.
	AdminIDs []string
}

type CommandsConfig struct {
	// MCPURL is the streamable-HTTP endpoint of the command provider
	// gateway. Empty means every command is emulated.
	MCPURL string
}

type PipelineConfig struct {
	RequestTimeout time.Duration
}

type MaintenanceConfig struct {
	Interval time.Duration
}

func defaults() Config {
	return Config{
		Server:     ServerConfig{Port: 4000},
		Storage:    StorageConfig{DataDir: defaultDataDir()},
		Proxy:      ProxyConfig{Model: "openai/gpt-4o-mini"},
		Log:        LogConfig{Level: "info"},
		Confirm:    ConfirmConfig{Timeout: 5 * time.Minute, AutoExecuteThreshold: 0.8},
		Tracing:    TracingConfig{MaxTraces: 1000, TTL: 24 * time.Hour},
		Preference: PreferenceConfig{MinUses: 3, MinSuccessRate: 0.5, TTL: 30 * 24 * time.Hour},
		Pipeline:   PipelineConfig{RequestTimeout: 30 * time.Second},
		Maintenance: MaintenanceConfig{
			Interval: time.Minute,
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "switchboard-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "switchboard")
}

// Load reads the JSON config file at $XDG_CONFIG_HOME/switchboard/config.json
// and applies SWITCHBOARD_* environment overrides. Secrets (API keys,
// tokens) are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if t := c.Confirm.AutoExecuteThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("confirm.auto_execute_threshold %v must be within [0, 1]", t))
	}
	if r := c.Preference.MinSuccessRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("preference.min_success_rate %v must be within [0, 1]", r))
	}
	if c.Confirm.Timeout <= 0 {
		errs = append(errs, errors.New("confirm.timeout must be positive"))
	}
	if c.Tracing.MaxTraces <= 0 {
		errs = append(errs, errors.New("tracing.max_traces must be positive"))
	}
	return errors.Join(errs...)
}
