package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/triviarena/buzzrelay/internal/gateway"
)

// Config is loaded from an optional yaml file, then overridden from the
// environment.
type Config struct {
	Server struct {
		Port           string   `yaml:"port" env:"PORT"`
		AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"`
	} `yaml:"log"`

	WebSocket struct {
		WriteTimeoutSec int   `yaml:"write_timeout_sec" env:"WS_WRITE_TIMEOUT_SEC"`
		ReadTimeoutSec  int   `yaml:"read_timeout_sec" env:"WS_READ_TIMEOUT_SEC"`
		PingIntervalSec int   `yaml:"ping_interval_sec" env:"WS_PING_INTERVAL_SEC"`
		MaxMessageSize  int64 `yaml:"max_message_size" env:"WS_MAX_MESSAGE_SIZE"`
	} `yaml:"websocket"`

	NATS struct {
		Enabled       bool   `yaml:"enabled" env:"NATS_ENABLED"`
		URL           string `yaml:"url" env:"NATS_URL"`
		Stream        string `yaml:"stream" env:"NATS_STREAM"`
		Consumer      string `yaml:"consumer" env:"NATS_CONSUMER"`
		SubjectFilter string `yaml:"subject_filter" env:"NATS_SUBJECT_FILTER"`
	} `yaml:"nats"`
}

// loadConfig starts from built-in defaults, layers the yaml file at
// path on top (skipped when path is empty or missing), then applies
// environment overrides.
func loadConfig(path string) (*Config, error) {
	var config Config
	config.Server.Port = "8080"
	config.Log.Level = "info"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return &config, nil
}

// gatewayConfig maps the loaded config onto the gateway's own config,
// keeping its defaults where nothing was set.
func (c *Config) gatewayConfig() gateway.Config {
	gc := gateway.DefaultConfig()

	if c.WebSocket.WriteTimeoutSec > 0 {
		gc.ConnectionConfig.WriteTimeout = time.Duration(c.WebSocket.WriteTimeoutSec) * time.Second
	}
	if c.WebSocket.ReadTimeoutSec > 0 {
		gc.ConnectionConfig.ReadTimeout = time.Duration(c.WebSocket.ReadTimeoutSec) * time.Second
	}
	if c.WebSocket.PingIntervalSec > 0 {
		gc.ConnectionConfig.PingInterval = time.Duration(c.WebSocket.PingIntervalSec) * time.Second
	}
	if c.WebSocket.MaxMessageSize > 0 {
		gc.ConnectionConfig.MaxMessageSize = c.WebSocket.MaxMessageSize
	}

	gc.NATSEnabled = c.NATS.Enabled
	if c.NATS.URL != "" {
		gc.JetStreamConfig.URL = c.NATS.URL
	}
	if c.NATS.Stream != "" {
		gc.JetStreamConfig.StreamName = c.NATS.Stream
	}
	if c.NATS.Consumer != "" {
		gc.JetStreamConfig.ConsumerName = c.NATS.Consumer
	}
	if c.NATS.SubjectFilter != "" {
		gc.JetStreamConfig.SubjectFilter = c.NATS.SubjectFilter
	}

	return gc
}
