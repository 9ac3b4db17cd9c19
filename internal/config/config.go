package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the sync server.
type Config struct {
	HTTPPort      int    `yaml:"http_port"`
	DatabasePath  string `yaml:"database_path"`
	LogLevel      string `yaml:"log_level"`
	MQTTBrokerURL string `yaml:"mqtt_broker_url"` // empty disables MQTT ingestion
	MQTTTopic     string `yaml:"mqtt_topic"`
	MDNSEnabled   bool   `yaml:"mdns_enabled"`
}

const (
	defaultHTTPPort     = 8080
	defaultDatabasePath = "data/bricktrack.db"
	defaultLogLevel     = "info"
	defaultMQTTTopic    = "bricktrack/+/placements"
)

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:     defaultHTTPPort,
		DatabasePath: defaultDatabasePath,
		LogLevel:     defaultLogLevel,
		MQTTTopic:    defaultMQTTTopic,
		MDNSEnabled:  true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("BRICKTRACK_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BRICKTRACK_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("BRICKTRACK_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("BRICKTRACK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("BRICKTRACK_MQTT_BROKER"); v != "" {
		cfg.MQTTBrokerURL = v
	}

	if v := os.Getenv("BRICKTRACK_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}

	if v := os.Getenv("BRICKTRACK_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BRICKTRACK_MDNS: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("http_port %d out of range", cfg.HTTPPort)
	}

	return cfg, nil
}
