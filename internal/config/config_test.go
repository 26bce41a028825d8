package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdavs625/groupquiz/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Session struct {
		Store         string
		SweepInterval time.Duration
	}

	Redis struct {
		Addrs  []string
		Prefix string
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.Session.Store = "memory"
	c.Session.SweepInterval = 30 * time.Minute
	c.Redis.Prefix = "groupquiz"
	return c
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  port: 9090
session:
  sweepInterval: 5m
redis:
  addrs:
    - localhost:6379
`), 0o600))

	t.Setenv("TESTQUIZ_SESSION_STORE", "redis")

	c := defaults()
	require.NoError(t, config.Load(file, &c, config.WithEnvPrefix("TESTQUIZ")))

	assert.Equal(t, int32(9090), c.HTTP.Port)
	assert.Equal(t, 5*time.Minute, c.Session.SweepInterval)
	assert.Equal(t, "redis", c.Session.Store, "environment overrides the defaults")
	assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	assert.Equal(t, "groupquiz", c.Redis.Prefix, "unset keys keep their defaults")
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("ENVQUIZ_HTTP_PORT", "7070")
	t.Setenv("ENVQUIZ_SESSION_SWEEPINTERVAL", "90s")

	c := defaults()
	require.NoError(t, config.Load("", &c, config.WithEnvPrefix("ENVQUIZ")))

	assert.Equal(t, int32(7070), c.HTTP.Port)
	assert.Equal(t, 90*time.Second, c.Session.SweepInterval)
	assert.Equal(t, "memory", c.Session.Store)
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	assert.ErrorContains(t, err, "read config from file")
}
