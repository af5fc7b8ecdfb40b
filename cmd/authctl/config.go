package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authsession/internal/gateway"
	"github.com/nkiryanov/authsession/internal/logger"
)

const (
	defaultAPIURL       = "http://localhost:8080"
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvDevelopment
	defaultTimeout      = gateway.DefaultTimeout
)

type Config struct {
	// Identity service base URL
	APIURL string

	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// File keeping remembered tokens when neither redis nor database is set
	TokenFile string

	// Redis keeps remembered tokens and carries session events between processes
	RedisURL string

	// Database keeps remembered tokens, takes precedence over redis
	DatabaseDSN string

	// Identity service request timeout
	Timeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		APIURL:      defaultAPIURL,
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		Timeout:     defaultTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}

	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"AUTH_API_URL":    setString(&c.APIURL),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"AUTH_TOKEN_FILE": setString(&c.TokenFile),
		"REDIS_URL":       setString(&c.RedisURL),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"AUTH_TIMEOUT":    setDuration(&c.Timeout),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

// ParseFlags parses global flags standing before command and returns command with its arguments
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("authctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api", "a", c.APIURL, "Identity service base URL")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.TokenFile, "token-file", "f", c.TokenFile, "File keeping remembered tokens")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis URL for shared tokens and session events")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string for shared tokens")
	fs.DurationVarP(&c.Timeout, "timeout", "t", c.Timeout, "Identity service request timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// TokenFilePath falls back to per-user config directory
func (c *Config) TokenFilePath() (string, error) {
	if c.TokenFile != "" {
		return c.TokenFile, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("can't find config directory, set token file explicitly: %w", err)
	}
	return filepath.Join(dir, "authsession", "tokens.json"), nil
}
