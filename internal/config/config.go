package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Recognized flat option keys, as handed over by the host configuration store.
const (
	KeyRefreshIntervalMinutes = "RefreshIntervalMinutes"
	KeyDebug                  = "Debug"
)

// Config holds the monitor configuration. Malformed or missing values always
// fall back to the defaults; configuration problems are never fatal.
type Config struct {
	RefreshIntervalMinutes int  `yaml:"refresh_interval_minutes" default:"5"`
	Debug                  bool `yaml:"debug" default:"false"`
}

// Default returns the configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile reads a YAML configuration file on top of the defaults. A missing
// file is not an error; a malformed one falls back to defaults with a logged
// warning.
func LoadFile(path string, logger *logrus.Logger) *Config {
	if logger == nil {
		logger = logrus.New()
	}

	cfg := Default()
	if path == "" {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read config file, using defaults")
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Malformed config file, using defaults")
		return Default()
	}

	cfg.sanitize(logger)
	return cfg
}

// Apply overlays flat key/value options onto the configuration. Unrecognized
// keys are ignored; unparsable values keep the current setting.
func (c *Config) Apply(options map[string]string, logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.New()
	}

	for key, value := range options {
		switch key {
		case KeyRefreshIntervalMinutes:
			minutes, err := strconv.Atoi(value)
			if err != nil || minutes <= 0 {
				logger.WithFields(logrus.Fields{
					"key":   key,
					"value": value,
				}).Warn("Invalid refresh interval, keeping current value")
				continue
			}
			c.RefreshIntervalMinutes = minutes
		case KeyDebug:
			debug, err := strconv.ParseBool(value)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"key":   key,
					"value": value,
				}).Warn("Invalid debug flag, keeping current value")
				continue
			}
			c.Debug = debug
		default:
			logger.WithField("key", key).Debug("Ignoring unrecognized option")
		}
	}

	c.sanitize(logger)
}

// sanitize clamps out-of-range values back to defaults
func (c *Config) sanitize(logger *logrus.Logger) {
	if c.RefreshIntervalMinutes <= 0 {
		logger.WithField("value", c.RefreshIntervalMinutes).Warn("Non-positive refresh interval, using default")
		c.RefreshIntervalMinutes = Default().RefreshIntervalMinutes
	}
}

// RefreshInterval returns the scheduler gating interval
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// NewLogger creates a logger honoring the Debug flag
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// String renders the effective configuration for diagnostics
func (c *Config) String() string {
	return fmt.Sprintf("refresh_interval=%dm debug=%t", c.RefreshIntervalMinutes, c.Debug)
}
