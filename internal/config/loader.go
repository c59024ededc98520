package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "illthorn"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/illthorn.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8090"
	}
	if cfg.API.StreamHeartbeatInterval == 0 {
		cfg.API.StreamHeartbeatInterval = 15 * time.Second
	}
	if cfg.API.StreamBuffer == 0 {
		cfg.API.StreamBuffer = 256
	}
	if cfg.Sessions.DefaultHost == "" {
		cfg.Sessions.DefaultHost = "127.0.0.1"
	}
	if cfg.Sessions.DiscoveryDir == "" {
		cfg.Sessions.DiscoveryDir = filepath.Join(os.TempDir(), "simutronics", "sessions")
	}
	if cfg.Sessions.DialTimeout == 0 {
		cfg.Sessions.DialTimeout = 10 * time.Second
	}
	if cfg.Sessions.Linger == 0 {
		cfg.Sessions.Linger = 2 * time.Second
	}
	if cfg.Sessions.ReadBufferSize == 0 {
		cfg.Sessions.ReadBufferSize = 1024
	}
	if cfg.Sessions.QueueCapacity == 0 {
		cfg.Sessions.QueueCapacity = 64
	}
	if cfg.Sessions.EnqueueTimeout == 0 {
		cfg.Sessions.EnqueueTimeout = time.Second
	}
	if cfg.Sessions.DebugLogDir == "" {
		cfg.Sessions.DebugLogDir = "./data/logs"
	}
	if cfg.Parser.MaxPendingBytes == 0 {
		cfg.Parser.MaxPendingBytes = 64 * 1024
	}
	if cfg.Mock.Listen == "" {
		cfg.Mock.Listen = "127.0.0.1:5555"
	}
	if cfg.Mock.ReplayInterval == 0 {
		cfg.Mock.ReplayInterval = 50 * time.Millisecond
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if envVarPattern.MatchString(cfg.API.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
		if len(matches) > 1 {
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.API.StreamHeartbeatInterval <= 0 {
		return fmt.Errorf("api.stream_heartbeat_interval must be positive")
	}
	if cfg.API.StreamBuffer < 0 {
		return fmt.Errorf("api.stream_buffer must not be negative")
	}
	if cfg.Sessions.ReadBufferSize < 16 {
		return fmt.Errorf("sessions.read_buffer_size must be at least 16 (got %d)", cfg.Sessions.ReadBufferSize)
	}
	if cfg.Sessions.QueueCapacity < 0 {
		return fmt.Errorf("sessions.queue_capacity must not be negative")
	}
	if cfg.Sessions.DialTimeout < 0 || cfg.Sessions.Linger < 0 || cfg.Sessions.EnqueueTimeout < 0 {
		return fmt.Errorf("sessions durations must not be negative")
	}
	if cfg.Parser.MaxPendingBytes < 0 {
		return fmt.Errorf("parser.max_pending_bytes must not be negative")
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
