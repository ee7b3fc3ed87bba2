package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "parkpilot/libs/config"
)

// Config defines parking service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"PARKING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"PARKING_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"PARKING_REDIS_ADDR"`
		Password string `yaml:"password" env:"PARKING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"PARKING_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"PARKING_REDIS_TTL"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"PARKING_JWT_SECRET"`
	} `yaml:"auth"`
	Reconciler struct {
		IntervalSeconds int `yaml:"intervalSeconds" env:"PARKING_RECONCILE_INTERVAL"`
		LeadMinutes     int `yaml:"leadMinutes" env:"PARKING_EXPIRING_LEAD_MINUTES"`
	} `yaml:"reconciler"`
	Push struct {
		Enabled bool   `yaml:"enabled" env:"PARKING_PUSH_ENABLED"`
		Region  string `yaml:"region" env:"PARKING_PUSH_REGION"`
	} `yaml:"push"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8084"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 86400
	cfg.Reconciler.IntervalSeconds = 60
	cfg.Reconciler.LeadMinutes = 10
	cfg.Push.Region = "eu-west-1"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8084"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ActiveSessionTTL returns the cache ttl as duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// ReconcileInterval returns the job schedule as duration.
func (c *Config) ReconcileInterval() time.Duration {
	if c.Reconciler.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Reconciler.IntervalSeconds) * time.Second
}
