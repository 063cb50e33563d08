package config

import (
	"errors"
	"fmt"
	"strconv"
)

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Env != "development" && c.Env != "production" && c.Env != "test" {
		errs = append(errs, fmt.Errorf("env must be development, production or test, got %q", c.Env))
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %q", c.Server.Port))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if c.Production() && (len(c.Auth.JWTSecret) < 32 || c.Auth.JWTSecret == Default().Auth.JWTSecret) {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	if c.RateLimit.RPS <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rps must be positive, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst))
	}

	if c.Weather.Timeout <= 0 {
		errs = append(errs, errors.New("weather.timeout must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
