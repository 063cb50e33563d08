// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env       string          `yaml:"env"` // development | production
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Weather   WeatherConfig   `yaml:"weather"`
	Payments  PaymentsConfig  `yaml:"payments"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type WeatherConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type PaymentsConfig struct {
	StripeSecretKey string `yaml:"stripe_secret_key"`
	Currency        string `yaml:"currency"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default returns settings suitable for local development
func Default() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "./kisan.sqlite"},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  24 * time.Hour,
		},
		Weather: WeatherConfig{
			BaseURL: "https://api.openweathermap.org",
			Timeout: 8 * time.Second,
		},
		Payments:  PaymentsConfig{Currency: "inr"},
		CORS:      CORSConfig{Origins: []string{"http://localhost:3000"}},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 30},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// FromEnvironment builds the effective configuration. path may be empty.
func FromEnvironment(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("KISAN_CONFIG")
	}

	cfg := Default()
	if path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return cfg, err
		}
	}

	envErr := cfg.ApplyEnv()
	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from well-known environment variables. Values
// that do not parse are left unchanged and reported in the returned error.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("KISAN_ENV", &c.Env)
	setString("PORT", &c.Server.Port)
	setString("DATABASE_PATH", &c.Database.Path)
	setString("JWT_SECRET", &c.Auth.JWTSecret)
	setString("WEATHER_API_KEY", &c.Weather.APIKey)
	setString("WEATHER_BASE_URL", &c.Weather.BaseURL)
	setString("STRIPE_SECRET_KEY", &c.Payments.StripeSecretKey)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.Origins = origins
	}

	var errs []error
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: invalid number %q", v))
		} else {
			c.RateLimit.RPS = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: invalid integer %q", v))
		} else {
			c.RateLimit.Burst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKEN_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_TTL: invalid duration %q", v))
		} else {
			c.Auth.TokenTTL = d
		}
	}
	return errors.Join(errs...)
}

// Production reports whether the service runs with production safeguards
func (c *Config) Production() bool {
	return c.Env == "production"
}
