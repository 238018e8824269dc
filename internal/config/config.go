// Package config loads daemon settings from an optional YAML file, a .env
// file, and DOCFLEET_* environment variables. Environment wins over the file,
// the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the full daemon configuration.
type Settings struct {
	// DataDir roots the on-disk layout: repos/, artifacts/, the database.
	DataDir string `yaml:"data_dir"`
	// Listen is the address of the HTTP server (artifacts, refs.json, API).
	Listen string `yaml:"listen"`

	// BuildWorkers is the size of the worker pool. Fixed at startup;
	// changing it requires a restart.
	BuildWorkers int `yaml:"build_workers"`

	GitTimeout    time.Duration `yaml:"git_timeout"`
	SphinxTimeout time.Duration `yaml:"sphinx_timeout"`

	// EnvManager is the default provisioning backend ("uv" or "pyenv");
	// targets may override it.
	EnvManager string `yaml:"env_manager"`
	// PythonVersion is the pyenv fallback when neither the manifest nor a
	// .python-version file pins one.
	PythonVersion string `yaml:"python_version"`

	// AutoBuildInterval is the monitor sweep interval. Zero disables the
	// monitor.
	AutoBuildInterval time.Duration `yaml:"auto_build_interval"`

	// LogRetention is the build-log retention horizon for the janitor and
	// `docfleet gc`. Zero keeps logs forever.
	LogRetention time.Duration `yaml:"log_retention"`

	// Extras extends the {dev, docs} extras allowlist applied to manifest
	// extras discovery.
	Extras []string `yaml:"extras"`

	Log    LogSettings    `yaml:"log"`
	Events EventsSettings `yaml:"events"`
}

// LogSettings controls the slog handler.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EventsSettings configures the optional NATS build-event publisher.
type EventsSettings struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load builds Settings from the optional YAML file at path (empty path skips
// the file), after loading a .env file when present. Environment variables
// are expanded inside the YAML and override its values afterwards.
func Load(path string) (*Settings, error) {
	// Missing .env files are fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	s := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), s); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	s.applyDefaults()
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.Listen == "" {
		s.Listen = ":8080"
	}
	if s.BuildWorkers == 0 {
		s.BuildWorkers = 5
	}
	if s.GitTimeout == 0 {
		s.GitTimeout = 120 * time.Second
	}
	if s.SphinxTimeout == 0 {
		s.SphinxTimeout = 600 * time.Second
	}
	if s.EnvManager == "" {
		s.EnvManager = "uv"
	}
	if s.AutoBuildInterval == 0 {
		s.AutoBuildInterval = 60 * time.Second
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "text"
	}
	if s.Events.URL == "" {
		s.Events.URL = "nats://127.0.0.1:4222"
	}
	if s.Events.SubjectPrefix == "" {
		s.Events.SubjectPrefix = "docfleet.builds"
	}
}

// Validate rejects settings the daemon cannot run with.
func (s *Settings) Validate() error {
	if s.BuildWorkers < 1 {
		return fmt.Errorf("build_workers must be at least 1, got %d", s.BuildWorkers)
	}
	if s.EnvManager != "uv" && s.EnvManager != "pyenv" {
		return fmt.Errorf("env_manager must be uv or pyenv, got %q", s.EnvManager)
	}
	if s.GitTimeout <= 0 {
		return fmt.Errorf("git_timeout must be positive, got %s", s.GitTimeout)
	}
	if s.SphinxTimeout <= 0 {
		return fmt.Errorf("sphinx_timeout must be positive, got %s", s.SphinxTimeout)
	}
	if s.AutoBuildInterval < 0 {
		return fmt.Errorf("auto_build_interval must not be negative, got %s", s.AutoBuildInterval)
	}
	if s.LogRetention < 0 {
		return fmt.Errorf("log_retention must not be negative, got %s", s.LogRetention)
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", s.Log.Level)
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// DatabasePath is the sqlite file under the data directory.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, "docfleet.db")
}
