package config

import (
	"fmt"
	"time"
)

// Config represents a swotrace.yaml file. The launch section carries the
// same data a debug session delivers as JSON; the rest configures the host
// side: logging, the read loop and the graph feeds.
type Config struct {
	Source SourceEvent `yaml:"source"`
	Launch LaunchArgs  `yaml:"launch"`
	Log    LogConfig   `yaml:"log"`
	Core   CoreConfig  `yaml:"core"`
	Feeds  FeedsConfig `yaml:"feeds"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console; empty picks by terminal
	File   string `yaml:"file,omitempty"`
}

// CoreConfig holds read loop settings.
type CoreConfig struct {
	Retries   int      `yaml:"retries"`
	Backoff   Duration `yaml:"backoff"`
	ChunkSize int      `yaml:"chunk_size"`
}

// FeedsConfig selects the graph feeds. Each feed is enabled by setting its
// address or path.
type FeedsConfig struct {
	Msgpack MsgpackFeedConfig `yaml:"msgpack"`
	Redis   RedisFeedConfig   `yaml:"redis"`
	SQLite  SQLiteFeedConfig  `yaml:"sqlite"`
	HTTP    HTTPFeedConfig    `yaml:"http"`
}

type MsgpackFeedConfig struct {
	Path string `yaml:"path"`
}

type RedisFeedConfig struct {
	Addr    string   `yaml:"addr"`
	Prefix  string   `yaml:"prefix"`
	Retries int      `yaml:"retries"`
	Timeout Duration `yaml:"timeout"`
}

type SQLiteFeedConfig struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

type HTTPFeedConfig struct {
	Addr    string `yaml:"addr"`
	History int    `yaml:"history"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills the zero values left by the file.
func (c *Config) ApplyDefaults() {
	if c.Source.Type == SourceJLink && c.Source.Host == "" {
		c.Source.Host = "localhost"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Core.Retries == 0 {
		c.Core.Retries = 3
	}
	if c.Core.Backoff.Duration == 0 {
		c.Core.Backoff.Duration = 500 * time.Millisecond
	}
	if c.Core.ChunkSize == 0 {
		c.Core.ChunkSize = 4096
	}
	if c.Feeds.Redis.Prefix == "" {
		c.Feeds.Redis.Prefix = "swotrace"
	}
	if c.Feeds.Redis.Retries == 0 {
		c.Feeds.Redis.Retries = 3
	}
	if c.Feeds.Redis.Timeout.Duration == 0 {
		c.Feeds.Redis.Timeout.Duration = 2 * time.Second
	}
	if c.Feeds.SQLite.BatchSize == 0 {
		c.Feeds.SQLite.BatchSize = 256
	}
	if c.Feeds.HTTP.History == 0 {
		c.Feeds.HTTP.History = 1024
	}
}

// Validate checks the parts of the file that can be checked without a
// session: the launch section and, if set, the source.
func (c *Config) Validate() error {
	if c.Source.Type != "" {
		if err := c.Source.Validate(); err != nil {
			return err
		}
	}
	if err := c.Launch.SWOConfig.Validate(); err != nil {
		return err
	}
	if _, err := c.Launch.Channels(); err != nil {
		return err
	}
	if c.Core.Retries < 0 {
		return invalidParam("core.retries must not be negative")
	}
	return nil
}
