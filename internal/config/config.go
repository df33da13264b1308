// Package config loads application configuration from environment
// variables (ELT prefix) layered over an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Transport TransportConfig `yaml:"transport" envconfig:"TRANSPORT"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
}

// ServerConfig contains the broadcaster HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/eltpulse.log"`
}

// TransportConfig contains WebSocket transport client configuration.
type TransportConfig struct {
	URL                  string        `yaml:"url" envconfig:"URL" default:"ws://localhost:8080/ws"`
	ReconnectBase        time.Duration `yaml:"reconnect_base" envconfig:"RECONNECT_BASE" default:"1s"`
	ReconnectCap         time.Duration `yaml:"reconnect_cap" envconfig:"RECONNECT_CAP" default:"30s"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS" default:"10"`
	PingInterval         time.Duration `yaml:"ping_interval" envconfig:"PING_INTERVAL" default:"30s"`
	WriteWait            time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" default:"10s"`
	PongWait             time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// PipelineConfig contains pipeline engine defaults.
type PipelineConfig struct {
	StepTimeout   time.Duration `yaml:"step_timeout" envconfig:"STEP_TIMEOUT" default:"30s"`
	RetryAttempts int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" default:"3"`
}

// Load loads configuration from environment variables and, when present,
// the config file at path. Environment values win over file values, and
// file values win over struct-tag defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Environment variables and defaults first.
	if err := envconfig.Process("ELT", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Merge the config file into fields not pinned by the environment.
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileCfg, err := loadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			mergeFileConfig(cfg, fileCfg)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile parses the YAML config file into a zero-based struct so
// only fields the file actually sets come back non-zero.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeFileConfig copies file-provided values into cfg. A field set by
// its environment variable keeps the env value; envconfig fills every
// field from its default tag, so env precedence is decided by variable
// presence rather than by zero values.
func mergeFileConfig(cfg, file *Config) {
	// Server config
	if file.Server.Port != 0 && !envSet("ELT_SERVER_PORT") {
		cfg.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 && !envSet("ELT_SERVER_READ_TIMEOUT") {
		cfg.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 && !envSet("ELT_SERVER_WRITE_TIMEOUT") {
		cfg.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 && !envSet("ELT_SERVER_IDLE_TIMEOUT") {
		cfg.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.ShutdownTimeout != 0 && !envSet("ELT_SERVER_SHUTDOWN_TIMEOUT") {
		cfg.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}

	// Logging config
	if file.Logging.Level != "" && !envSet("ELT_LOGGING_LEVEL") {
		cfg.Logging.Level = file.Logging.Level
	}
	if file.Logging.Output != "" && !envSet("ELT_LOGGING_OUTPUT") {
		cfg.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" && !envSet("ELT_LOGGING_FILE_PATH") {
		cfg.Logging.FilePath = file.Logging.FilePath
	}

	// Transport config
	if file.Transport.URL != "" && !envSet("ELT_TRANSPORT_URL") {
		cfg.Transport.URL = file.Transport.URL
	}
	if file.Transport.ReconnectBase != 0 && !envSet("ELT_TRANSPORT_RECONNECT_BASE") {
		cfg.Transport.ReconnectBase = file.Transport.ReconnectBase
	}
	if file.Transport.ReconnectCap != 0 && !envSet("ELT_TRANSPORT_RECONNECT_CAP") {
		cfg.Transport.ReconnectCap = file.Transport.ReconnectCap
	}
	if file.Transport.MaxReconnectAttempts != 0 && !envSet("ELT_TRANSPORT_MAX_RECONNECT_ATTEMPTS") {
		cfg.Transport.MaxReconnectAttempts = file.Transport.MaxReconnectAttempts
	}
	if file.Transport.PingInterval != 0 && !envSet("ELT_TRANSPORT_PING_INTERVAL") {
		cfg.Transport.PingInterval = file.Transport.PingInterval
	}
	if file.Transport.WriteWait != 0 && !envSet("ELT_TRANSPORT_WRITE_WAIT") {
		cfg.Transport.WriteWait = file.Transport.WriteWait
	}
	if file.Transport.PongWait != 0 && !envSet("ELT_TRANSPORT_PONG_WAIT") {
		cfg.Transport.PongWait = file.Transport.PongWait
	}

	// Pipeline config
	if file.Pipeline.StepTimeout != 0 && !envSet("ELT_PIPELINE_STEP_TIMEOUT") {
		cfg.Pipeline.StepTimeout = file.Pipeline.StepTimeout
	}
	if file.Pipeline.RetryAttempts != 0 && !envSet("ELT_PIPELINE_RETRY_ATTEMPTS") {
		cfg.Pipeline.RetryAttempts = file.Pipeline.RetryAttempts
	}
}

func envSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Transport.ReconnectBase <= 0 {
		return fmt.Errorf("reconnect base must be positive, got %s", c.Transport.ReconnectBase)
	}
	if c.Transport.ReconnectCap < c.Transport.ReconnectBase {
		return fmt.Errorf("reconnect cap %s below base %s", c.Transport.ReconnectCap, c.Transport.ReconnectBase)
	}
	if c.Transport.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.Pipeline.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive, got %s", c.Pipeline.StepTimeout)
	}
	if c.Pipeline.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	return nil
}
