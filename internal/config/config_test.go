package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kisan.yaml")
	content := `
env: development
server:
  port: "9090"
database:
  path: /tmp/test.sqlite
weather:
  api_key: abc123
  timeout: 3s
rate_limit:
  rps: 5
  burst: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/tmp/test.sqlite", cfg.Database.Path)
	assert.Equal(t, "abc123", cfg.Weather.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Weather.Timeout)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	// untouched sections keep defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "inr", cfg.Payments.Currency)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("TOKEN_TTL", "1h")

	cfg := Default()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `RATE_LIMIT_BURST: invalid integer "not-a-number"`)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, 30, cfg.RateLimit.Burst, "unparsable values keep the previous setting")
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestFromEnvironment_RejectsMalformedNumbers(t *testing.T) {
	t.Setenv("KISAN_CONFIG", "")
	t.Setenv("RATE_LIMIT_RPS", "fast")
	t.Setenv("RATE_LIMIT_BURST", "")
	t.Setenv("TOKEN_TTL", "a day")

	_, err := FromEnvironment("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `RATE_LIMIT_RPS: invalid number "fast"`)
	assert.Contains(t, err.Error(), `TOKEN_TTL: invalid duration "a day"`)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "server.port"},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, "server.port"},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret is required"},
		{"default secret in production", func(c *Config) { c.Env = "production" }, "at least 32 characters"},
		{"zero rps", func(c *Config) { c.RateLimit.RPS = 0 }, "rate_limit.rps"},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit.burst"},
		{"unknown env", func(c *Config) { c.Env = "staging" }, "env must be"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("production with strong secret", func(t *testing.T) {
		cfg := Default()
		cfg.Env = "production"
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
		assert.NoError(t, cfg.Validate())
	})
}

func TestFromEnvironment_UsesConfigVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kisan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"8181\"\n"), 0o600))
	t.Setenv("KISAN_CONFIG", path)
	t.Setenv("PORT", "")

	cfg, err := FromEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, "8181", cfg.Server.Port)
}
