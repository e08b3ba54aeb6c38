package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/imhotep-client/internal/config"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
env: "PROD"
api_url: "https://tasks.imhotep.example/"
http_timeout: "5s"
callback_addr: "127.0.0.1:9999"
log_level: "debug"
store:
  backend: "redis"
  redis_url: "redis://cache:6379/2"
  redis_prefix: "tasks:"
  redis_ttl: "720h"
`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	c, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "DEV", c.GetEnv())
	require.Equal(t, "http://localhost:8000", c.GetAPIURL())
	require.Equal(t, 30*time.Second, c.GetHTTPTimeout())
	require.Equal(t, config.StoreFile, c.GetStoreBackend())
	require.Empty(t, c.GetTokenFile())
	require.Equal(t, "imhotep:session:", c.GetRedisPrefix())
	require.Equal(t, "info", c.GetLogLevel())
}

func TestLoadExplicitPath(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.yaml", sampleYAML)

	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "PROD", c.GetEnv())
	require.Equal(t, "https://tasks.imhotep.example", c.GetAPIURL())
	require.Equal(t, 5*time.Second, c.GetHTTPTimeout())
	require.Equal(t, "127.0.0.1:9999", c.GetCallbackAddr())
	require.Equal(t, config.StoreRedis, c.GetStoreBackend())
	require.Equal(t, "redis://cache:6379/2", c.GetRedisURL())
	require.Equal(t, "tasks:", c.GetRedisPrefix())
	require.Equal(t, 720*time.Hour, c.GetRedisTTL())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.yaml", sampleYAML)
	t.Setenv("API_URL", "http://127.0.0.1:8000")
	t.Setenv("STORE_BACKEND", "memory")

	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8000", c.GetAPIURL())
	require.Equal(t, config.StoreMemory, c.GetStoreBackend())
	require.Equal(t, "PROD", c.GetEnv())
}

func TestConfigPathEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "from-env.yaml", sampleYAML)
	t.Setenv("CONFIG_PATH", path)

	c, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "PROD", c.GetEnv())
}

func TestWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "imhotep.yaml", "api_url: \"http://cwd.example\"\n")
	chdir(t, dir)
	t.Setenv("CONFIG_PATH", "")

	c, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "http://cwd.example", c.GetAPIURL())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("broken yaml", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "broken.yaml", "store: [unclosed\n")
		_, err := config.Load(path)
		require.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "bad.yaml", "store:\n  backend: \"floppy\"\n")
		_, err := config.Load(path)
		require.ErrorContains(t, err, "floppy")
	})
}

func TestFromValues(t *testing.T) {
	c, err := config.FromValues(config.Values{
		APIURL:      "http://x",
		HTTPTimeout: time.Second,
		Store:       config.StoreValues{Backend: config.StoreMemory},
	})
	require.NoError(t, err)
	require.Equal(t, "DEV", c.GetEnv())

	_, err = config.FromValues(config.Values{APIURL: "http://x", Store: config.StoreValues{Backend: config.StoreMemory}})
	require.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("IMHOTEP_TEST_VAR", "")
	require.Equal(t, "fallback", config.GetEnv("IMHOTEP_TEST_VAR", "fallback"))
	t.Setenv("IMHOTEP_TEST_VAR", "set")
	require.Equal(t, "set", config.GetEnv("IMHOTEP_TEST_VAR", "fallback"))
}
