package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/mallet/internal/display"
	"github.com/srg/mallet/internal/profile"
	"github.com/srg/mallet/internal/session"
	"github.com/srg/mallet/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel          string          `yaml:"log_level" default:"warn"`
	TargetName        string          `yaml:"target_name" default:"TechPolo_Mallet"`
	Policy            string          `yaml:"policy" default:"auto"`
	Source            string          `yaml:"source" default:"ble"`
	Window            int             `yaml:"window" default:"50"`
	GeneratorInterval time.Duration   `yaml:"generator_interval" default:"1s"`
	RefreshInterval   time.Duration   `yaml:"refresh_interval" default:"250ms"`
	ConnectTimeout    time.Duration   `yaml:"connect_timeout" default:"30s"`
	ScanDuration      time.Duration   `yaml:"scan_duration" default:"10s"`
	OutputFormat      string          `yaml:"output_format" default:"text"`
	Profile           ProfileConfig   `yaml:"profile"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ProfileConfig holds the peripheral identifiers.
type ProfileConfig struct {
	Service   string `yaml:"service" default:"19b10000-0000-0000-0000-000000000001"`
	X         string `yaml:"x" default:"19b10000-0000-0000-0000-000000000002"`
	Y         string `yaml:"y" default:"19b10000-0000-0000-0000-000000000003"`
	Z         string `yaml:"z" default:"19b10000-0000-0000-0000-000000000004"`
	Force     string `yaml:"force" default:"19b10000-0000-0000-0000-000000000005"`
	ByteOrder string `yaml:"byte_order" default:"little"`
}

// ReconnectConfig mirrors session.Backoff. max_attempts: 0 disables
// reconnecting, a negative value reconnects immediately without limit.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" default:"1s"`
	MaxDelay     time.Duration `yaml:"max_delay" default:"30s"`
	Multiplier   float64       `yaml:"multiplier" default:"2"`
	MaxAttempts  int           `yaml:"max_attempts" default:"10"`
}

var outputFormats = []string{"text", "json"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that has a closed set of values or a range.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := session.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := display.ParseSource(c.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.GeneratorInterval <= 0 {
		return fmt.Errorf("generator_interval must be positive, got %s", c.GeneratorInterval)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if !isOutputFormat(c.OutputFormat) {
		return fmt.Errorf("output_format %q: use %s", c.OutputFormat, strings.Join(outputFormats, " or "))
	}
	if err := c.Backoff().Validate(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if _, err := c.BuildProfile(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}

func isOutputFormat(s string) bool {
	for _, f := range outputFormats {
		if s == f {
			return true
		}
	}
	return false
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// BuildProfile validates the identifiers and returns the peripheral profile.
func (c *Config) BuildProfile() (*profile.Profile, error) {
	order, err := telemetry.ParseByteOrder(c.Profile.ByteOrder)
	if err != nil {
		return nil, err
	}
	return profile.New(c.TargetName, c.Profile.Service, map[telemetry.Channel]string{
		telemetry.ChannelX:     c.Profile.X,
		telemetry.ChannelY:     c.Profile.Y,
		telemetry.ChannelZ:     c.Profile.Z,
		telemetry.ChannelForce: c.Profile.Force,
	}, order)
}

// Backoff returns the reconnect schedule.
func (c *Config) Backoff() session.Backoff {
	return session.Backoff{
		InitialDelay: c.Reconnect.InitialDelay,
		MaxDelay:     c.Reconnect.MaxDelay,
		Multiplier:   c.Reconnect.Multiplier,
		MaxAttempts:  c.Reconnect.MaxAttempts,
	}
}

// SessionOptions builds session options. RouteSamples is left to the view.
func (c *Config) SessionOptions(logger *logrus.Logger) (*session.Options, error) {
	policy, err := session.ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	prof, err := c.BuildProfile()
	if err != nil {
		return nil, err
	}
	return &session.Options{
		Policy:  policy,
		Backoff: c.Backoff(),
		Profile: prof,
		Logger:  logger,
	}, nil
}

// ViewOptions builds view options without a renderer or adapter opener.
func (c *Config) ViewOptions(logger *logrus.Logger) (display.ViewOptions, error) {
	source, err := display.ParseSource(c.Source)
	if err != nil {
		return display.ViewOptions{}, err
	}
	sess, err := c.SessionOptions(logger)
	if err != nil {
		return display.ViewOptions{}, err
	}
	return display.ViewOptions{
		Source:            source,
		Window:            c.Window,
		GeneratorInterval: c.GeneratorInterval,
		RefreshInterval:   c.RefreshInterval,
		Session:           sess,
		Logger:            logger,
	}, nil
}
