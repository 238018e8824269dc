package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides settings from DOCFLEET_* environment variables.
// Durations use Go syntax ("90s", "10m").
func (s *Settings) applyEnv() error {
	if v := os.Getenv("DOCFLEET_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("DOCFLEET_LISTEN"); v != "" {
		s.Listen = v
	}
	if err := envInt("DOCFLEET_BUILD_WORKERS", &s.BuildWorkers); err != nil {
		return err
	}
	if err := envDuration("DOCFLEET_GIT_TIMEOUT", &s.GitTimeout); err != nil {
		return err
	}
	if err := envDuration("DOCFLEET_SPHINX_TIMEOUT", &s.SphinxTimeout); err != nil {
		return err
	}
	if v := os.Getenv("DOCFLEET_ENV_MANAGER"); v != "" {
		s.EnvManager = v
	}
	if v := os.Getenv("DOCFLEET_PYTHON_VERSION"); v != "" {
		s.PythonVersion = v
	}
	if err := envDuration("DOCFLEET_AUTO_BUILD_INTERVAL", &s.AutoBuildInterval); err != nil {
		return err
	}
	if err := envDuration("DOCFLEET_LOG_RETENTION", &s.LogRetention); err != nil {
		return err
	}
	if v := os.Getenv("DOCFLEET_EXTRAS"); v != "" {
		s.Extras = splitList(v)
	}
	if v := os.Getenv("DOCFLEET_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv("DOCFLEET_LOG_FORMAT"); v != "" {
		s.Log.Format = v
	}
	if err := envBool("DOCFLEET_EVENTS_ENABLED", &s.Events.Enabled); err != nil {
		return err
	}
	if v := os.Getenv("DOCFLEET_EVENTS_URL"); v != "" {
		s.Events.URL = v
	}
	if v := os.Getenv("DOCFLEET_EVENTS_SUBJECT_PREFIX"); v != "" {
		s.Events.SubjectPrefix = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
