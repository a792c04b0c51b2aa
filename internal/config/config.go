// Package config loads the service configuration: a YAML file layered with
// environment variables. Env vars win, so deployments can override a checked
// in config without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Resolver ResolverConfig `yaml:"resolver"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Executor ExecutorConfig `yaml:"executor"`
	Auth     AuthConfig     `yaml:"auth"`
	History  HistoryConfig  `yaml:"history"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type ResolverConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	PerMinute   int    `yaml:"requests_per_minute"`
	PerHour     int    `yaml:"requests_per_hour"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
	MaxRetries  int    `yaml:"max_retries"`
	PerPage     int    `yaml:"per_page"`
	MaxPages    int    `yaml:"max_pages"`
	MaxResults  int    `yaml:"max_results"`
}

type ExecutorConfig struct {
	PrimaryRoot   string `yaml:"primary_root"`
	SecondaryRoot string `yaml:"secondary_root"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	DBPath  string `yaml:"db_path"`
	Keyring string `yaml:"keyring_service"`
}

type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Resolver: ResolverConfig{Threshold: 0.5},
		Gateway: GatewayConfig{
			BaseURL:     "https://app.practicehq.com/api/v4",
			PerMinute:   300,
			PerHour:     10000,
			TimeoutSecs: 30,
			MaxRetries:  3,
			PerPage:     50,
			MaxPages:    20,
			MaxResults:  1000,
		},
		Executor: ExecutorConfig{TimeoutSecs: 60},
		Auth:     AuthConfig{Keyring: "nlagent"},
		History:  HistoryConfig{DBPath: "nlagent_history.db"},
	}
}

// Load reads the YAML file at path (a missing file falls back to defaults),
// then applies environment overrides. A .env file in the working directory
// is loaded first, the way local development expects.
func Load(path string) (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("opening config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setFloat(&c.Resolver.Threshold, "NLAGENT_THRESHOLD")
	setString(&c.Gateway.BaseURL, "PRACTICE_API_URL")
	setInt(&c.Gateway.PerMinute, "PRACTICE_RATE_PER_MINUTE")
	setInt(&c.Gateway.PerHour, "PRACTICE_RATE_PER_HOUR")
	setInt(&c.Gateway.MaxRetries, "PRACTICE_MAX_RETRIES")
	setString(&c.Executor.PrimaryRoot, "NLAGENT_PRIMARY_CLI")
	setString(&c.Executor.SecondaryRoot, "NLAGENT_SECONDARY_CLI")
	setString(&c.Auth.DBPath, "NLAGENT_AUTH_DB")
	setString(&c.History.DBPath, "NLAGENT_HISTORY_DB")
}

// GatewayTimeout returns the per-call timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSecs) * time.Second
}

// ExecutorTimeout returns the subprocess timeout as a duration.
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSecs) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
