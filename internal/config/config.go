// Package config loads the dashboard service configuration from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	IdentityBaseURL string `yaml:"identityBaseURL"`
	IdentityAPIKey  string `yaml:"identityApiKey"`

	HeartbeatInterval  string `yaml:"heartbeatInterval"`
	SessionIdleTimeout string `yaml:"sessionIdleTimeout"`

	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int `yaml:"registerRateLimitPerMinute"`

	ScreenshotEndpoint  string `yaml:"screenshotEndpoint"`
	ScreenshotAccessKey string `yaml:"screenshotAccessKey"`
	ScreenshotSecretKey string `yaml:"screenshotSecretKey"`
	ScreenshotBucket    string `yaml:"screenshotBucket"`
	ScreenshotUseSSL    bool   `yaml:"screenshotUseSSL"`

	AMQPURL string `yaml:"amqpUrl"`

	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("IDENTITY_BASE_URL"); v != "" {
		cfg.IdentityBaseURL = v
	}
	if v := os.Getenv("IDENTITY_API_KEY"); v != "" {
		cfg.IdentityAPIKey = v
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		cfg.HeartbeatInterval = v
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		cfg.SessionIdleTimeout = v
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SCREENSHOT_ENDPOINT"); v != "" {
		cfg.ScreenshotEndpoint = v
	}
	if v := os.Getenv("SCREENSHOT_ACCESS_KEY"); v != "" {
		cfg.ScreenshotAccessKey = v
	}
	if v := os.Getenv("SCREENSHOT_SECRET_KEY"); v != "" {
		cfg.ScreenshotSecretKey = v
	}
	if v := os.Getenv("SCREENSHOT_BUCKET"); v != "" {
		cfg.ScreenshotBucket = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		entries := strings.Split(v, ",")
		cfg.TrustedProxies = cfg.TrustedProxies[:0]
		for _, e := range entries {
			if e = strings.TrimSpace(e); e != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, e)
			}
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.IdentityBaseURL) == "" {
		return errors.New("config: identityBaseURL is required")
	}
	if strings.TrimSpace(cfg.IdentityAPIKey) == "" {
		return errors.New("config: identityApiKey is required (set IDENTITY_API_KEY)")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseHeartbeatInterval(cfg.HeartbeatInterval); err != nil {
		return err
	}
	if _, err := ParseSessionIdleTimeout(cfg.SessionIdleTimeout); err != nil {
		return err
	}
	return nil
}

// ParseHeartbeatInterval parses the optional presence heartbeat interval.
func ParseHeartbeatInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid heartbeatInterval duration: %w", err)
	}
	return dur, nil
}

// ParseSessionIdleTimeout parses the optional dashboard session idle timeout.
func ParseSessionIdleTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionIdleTimeout duration: %w", err)
	}
	return dur, nil
}
