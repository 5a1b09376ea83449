package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearStudioEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv("STUDIO_"+envName(key), "")
		os.Unsetenv("STUDIO_" + envName(key))
	}
	t.Setenv("NO_COLOR", "")
}

func envName(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch {
		case c == '.':
			out[i] = '_'
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestConfigLoad_File(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `server_url: http://studio.local:8000
api_key: sk-123
datasource_id: ds-1
dashboard_id: dash-1
section_id: sec-1
page_size: 25
debug: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://studio.local:8000", cfg.ServerURL)
	assert.Equal(t, "sk-123", cfg.APIKey)
	assert.Equal(t, "ds-1", cfg.DatasourceID)
	assert.Equal(t, "dash-1", cfg.DashboardID)
	assert.Equal(t, "sec-1", cfg.SectionID)
	assert.Equal(t, 25, cfg.PageSize)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "auto", cfg.UI.Color, "unset sections keep their defaults")
}

func TestConfigLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 10, cfg.PageSize)
	assert.False(t, cfg.Debug)
	assert.True(t, cfg.Cache.Enabled)
}

func TestConfigSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.ServerURL = "http://saved.example.com"
	cfg.APIKey = "secret"
	cfg.DatasourceID = "ds-saved"

	require.NoError(t, Save(cfg, configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDiscoverPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigPath, "")

	assert.Equal(t, "/tmp/flag.yaml", DiscoverPath("/tmp/flag.yaml"))

	t.Setenv(EnvConfigPath, "/tmp/env.yaml")
	assert.Equal(t, "/tmp/env.yaml", DiscoverPath(""))

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".studio", "config.yaml"), DiscoverPath(""))
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	clearStudioEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server_url: http://file:8000\ndatasource_id: from-file\n"), 0600))

	t.Setenv("STUDIO_DATASOURCE_ID", "from-env")
	t.Setenv("STUDIO_PAGE_SIZE", "50")
	t.Setenv("STUDIO_UI_COLOR", "never")
	t.Setenv("STUDIO_STREAM_TIMEOUT", "90s")

	cfg, err := LoadWithEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://file:8000", cfg.ServerURL)
	assert.Equal(t, "from-env", cfg.DatasourceID)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, "never", cfg.UI.Color)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout())
	assert.False(t, cfg.ShouldUseColor(false))
}

func TestLoadWithEnv_MissingFile(t *testing.T) {
	clearStudioEnv(t)

	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().ServerURL, cfg.ServerURL)
	assert.Equal(t, 10, cfg.PageSize)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.UI.Pager)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STUDIO_DOTENV_A=env\nSTUDIO_DOTENV_B=env\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("STUDIO_DOTENV_A=local\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("STUDIO_DOTENV_A")
		os.Unsetenv("STUDIO_DOTENV_B")
	})

	require.NoError(t, LoadDotEnv(dir))
	assert.Equal(t, "local", os.Getenv("STUDIO_DOTENV_A"))
	assert.Equal(t, "env", os.Getenv("STUDIO_DOTENV_B"))

	assert.NoError(t, LoadDotEnv(t.TempDir()), "missing files are not an error")
}

func TestDurations(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 2*time.Second, cfg.CompletionTimeout())
	assert.Equal(t, time.Duration(0), cfg.StreamTimeout())

	cfg.Cache.TTL = "garbage"
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	cfg.Completion.Timeout = "500ms"
	assert.Equal(t, 500*time.Millisecond, cfg.CompletionTimeout())
}

func TestShouldUseColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	cfg := Defaults()
	assert.True(t, cfg.ShouldUseColor(false))
	assert.False(t, cfg.ShouldUseColor(true))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, cfg.ShouldUseColor(false))
}

func TestMaskedAPIKey(t *testing.T) {
	assert.Equal(t, "", (&Config{}).MaskedAPIKey())
	assert.Equal(t, "****", (&Config{APIKey: "abc"}).MaskedAPIKey())
	assert.Equal(t, "********wxyz", (&Config{APIKey: "sk-abcdwxyz"}).MaskedAPIKey())
}
