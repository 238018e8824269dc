package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", s.DataDir)
	assert.Equal(t, ":8080", s.Listen)
	assert.Equal(t, 5, s.BuildWorkers)
	assert.Equal(t, 120*time.Second, s.GitTimeout)
	assert.Equal(t, 600*time.Second, s.SphinxTimeout)
	assert.Equal(t, "uv", s.EnvManager)
	assert.Equal(t, 60*time.Second, s.AutoBuildInterval)
	assert.Equal(t, "info", s.Log.Level)
	assert.False(t, s.Events.Enabled)
	assert.Equal(t, filepath.Join("data", "docfleet.db"), s.DatabasePath())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docfleet.yaml")
	content := `
data_dir: /var/lib/docfleet
build_workers: 2
git_timeout: 30s
env_manager: pyenv
python_version: "3.12"
extras:
  - documentation
log:
  level: debug
  format: json
events:
  enabled: true
  subject_prefix: ci.docs
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/docfleet", s.DataDir)
	assert.Equal(t, 2, s.BuildWorkers)
	assert.Equal(t, 30*time.Second, s.GitTimeout)
	assert.Equal(t, "pyenv", s.EnvManager)
	assert.Equal(t, "3.12", s.PythonVersion)
	assert.Equal(t, []string{"documentation"}, s.Extras)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.True(t, s.Events.Enabled)
	assert.Equal(t, "ci.docs", s.Events.SubjectPrefix)
	// untouched keys still get defaults
	assert.Equal(t, 600*time.Second, s.SphinxTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docfleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build_workers: 2\n"), 0o644))

	t.Setenv("DOCFLEET_BUILD_WORKERS", "7")
	t.Setenv("DOCFLEET_AUTO_BUILD_INTERVAL", "5m")
	t.Setenv("DOCFLEET_EXTRAS", "doc, documentation")
	t.Setenv("DOCFLEET_EVENTS_ENABLED", "true")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, s.BuildWorkers)
	assert.Equal(t, 5*time.Minute, s.AutoBuildInterval)
	assert.Equal(t, []string{"doc", "documentation"}, s.Extras)
	assert.True(t, s.Events.Enabled)
}

func TestExpandsEnvInYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docfleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: ${DOCFLEET_TEST_ROOT}/fleet\n"), 0o644))
	t.Setenv("DOCFLEET_TEST_ROOT", "/srv")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/fleet", s.DataDir)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero workers", func(s *Settings) { s.BuildWorkers = -1 }},
		{"bad env manager", func(s *Settings) { s.EnvManager = "conda" }},
		{"bad git timeout", func(s *Settings) { s.GitTimeout = -time.Second }},
		{"bad log level", func(s *Settings) { s.Log.Level = "trace" }},
		{"bad log format", func(s *Settings) { s.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Load("")
			require.NoError(t, err)
			tc.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("DOCFLEET_GIT_TIMEOUT", "not-a-duration")
	_, err := Load("")
	assert.Error(t, err)
}
