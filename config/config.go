package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	StorageBuntDB = "buntdb"
	StorageFile   = "file"
)

// LogConfig controls the logrus setup.
type LogConfig struct {
	Level  string `yaml:"level"`  // panic, fatal, error, warn, info, debug or trace
	Format string `yaml:"format"` // "text" or "json"
	Buffer int    `yaml:"buffer"` // number of recent entries kept in memory for the console
}

// StorageConfig selects where the reader settings are persisted.
type StorageConfig struct {
	Type string `yaml:"type"` // "buntdb" or "file"
	Path string `yaml:"path"`
}

type ReaderConfig struct {
	StopTimeoutMs int `yaml:"stop_timeout_ms"` // how long Stop waits for a polling loop
}

// Config aggregates all application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Reader  ReaderConfig  `yaml:"reader"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and returns the configuration. A missing file is not an error and gives the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Format != FormatText && cfg.Log.Format != FormatJSON {
		return nil, fmt.Errorf("log.format must be %q or %q, got %q", FormatText, FormatJSON, cfg.Log.Format)
	}
	if cfg.Log.Buffer < 0 || cfg.Log.Buffer > 10000 {
		return nil, fmt.Errorf("log.buffer must be between 0 and 10000, got %d", cfg.Log.Buffer)
	}
	if cfg.Storage.Type != StorageBuntDB && cfg.Storage.Type != StorageFile {
		return nil, fmt.Errorf("storage.type must be %q or %q, got %q", StorageBuntDB, StorageFile, cfg.Storage.Type)
	}
	if cfg.Reader.StopTimeoutMs > 60000 {
		return nil, fmt.Errorf("reader.stop_timeout_ms must be <= 60000, got %d", cfg.Reader.StopTimeoutMs)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = FormatText
	}
	if c.Log.Buffer == 0 {
		c.Log.Buffer = 100 // same as the web log view
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageBuntDB
	}
	if c.Storage.Path == "" {
		switch c.Storage.Type {
		case StorageFile:
			c.Storage.Path = "settings.json"
		default:
			c.Storage.Path = "settings.db"
		}
	}
	if c.Reader.StopTimeoutMs <= 0 {
		c.Reader.StopTimeoutMs = 2000
	}
}

// StopTimeout returns how long stopping a reader may take.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Reader.StopTimeoutMs) * time.Millisecond
}

// LogLevel returns the parsed log level. Load has already validated it.
func (c *Config) LogLevel() log.Level {
	l, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return l
}

// Formatter returns the logrus formatter for the configured format.
func (c *Config) Formatter() log.Formatter {
	if c.Log.Format == FormatJSON {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{FullTimestamp: true}
}
