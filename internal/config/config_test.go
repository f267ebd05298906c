package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DESTINATION", "")
	t.Setenv("PRODUCTION", "")
	t.Setenv("REFRESH_CYCLE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Destination)
	assert.Equal(t, "w3c/groups", cfg.PublishRepository)
	assert.Equal(t, "main", cfg.PublishBranch)
	assert.Equal(t, 3, cfg.RefreshCycle)
	assert.False(t, cfg.Production)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("PRODUCTION", "true")
	t.Setenv("REFRESH_CYCLE", "6")
	t.Setenv("PUBLISH_REPOSITORY", "acme/published")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Production)
	assert.Equal(t, 6, cfg.RefreshCycle)
	owner, name := cfg.PublishOwnerRepo()
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "published", name)
}

func TestLoadEnvFile(t *testing.T) {
	// registered for cleanup, then cleared so the file can set it
	t.Setenv("W3C_API_URL", "")
	require.NoError(t, os.Unsetenv("W3C_API_URL"))

	file := filepath.Join(t.TempDir(), "groups.env")
	require.NoError(t, os.WriteFile(file, []byte("W3C_API_URL=http://directory.test\n"), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "http://directory.test", cfg.W3CAPIURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GitHubToken:       "tok",
			Destination:       "./data",
			PublishRepository: "w3c/groups",
			RefreshCycle:      3,
			StorageType:       "sqlite",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.GitHubToken = "" }, "GITHUB_TOKEN"},
		{"bad refresh", func(c *Config) { c.RefreshCycle = 25 }, "REFRESH_CYCLE"},
		{"bad publish repo", func(c *Config) { c.Production = true; c.PublishRepository = "groups" }, "PUBLISH_REPOSITORY"},
		{"bad storage", func(c *Config) { c.StorageType = "mysql" }, "STORAGE_TYPE"},
		{"postgres without url", func(c *Config) { c.StorageType = "postgres" }, "POSTGRES_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
