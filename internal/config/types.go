package config

import "time"

// Config represents the complete illthorn configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Sessions SessionsConfig `yaml:"sessions"`
	Parser   ParserConfig   `yaml:"parser"`
	Mock     MockConfig     `yaml:"mock"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen                  string        `yaml:"listen"`
	Token                   string        `yaml:"token"`
	StreamHeartbeatInterval time.Duration `yaml:"stream_heartbeat_interval"`
	StreamBuffer            int           `yaml:"stream_buffer"`
}

// SessionsConfig defines how game connections are opened and recorded.
type SessionsConfig struct {
	DefaultHost       string        `yaml:"default_host"`
	DiscoveryDir      string        `yaml:"discovery_dir"`
	WatchDiscovery    bool          `yaml:"watch_discovery"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	Linger            time.Duration `yaml:"linger"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	EnqueueTimeout    time.Duration `yaml:"enqueue_timeout"`
	PersistTranscript bool          `yaml:"persist_transcript"`
	DebugLogDir       string        `yaml:"debug_log_dir"`
}

// ParserConfig defines limits for the markup parser.
type ParserConfig struct {
	MaxPendingBytes int `yaml:"max_pending_bytes"`
}

// MockConfig defines the development listener.
type MockConfig struct {
	Listen         string        `yaml:"listen"`
	ReplayFile     string        `yaml:"replay_file"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}
