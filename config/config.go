package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/w1xm/carryout_interface/carryout"
	"github.com/w1xm/carryout_interface/rotator"
	"github.com/w1xm/carryout_interface/rotctld"
	"gopkg.in/yaml.v3"
)

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// ReadTimeoutMs bounds one telemetry read.
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Config struct {
	Serial SerialConfig `yaml:"serial"`
	// Listen is the rotctld address.
	Listen string         `yaml:"listen"`
	Limits rotator.Limits `yaml:"limits"`
	// Tolerance is in degrees.
	Tolerance float64 `yaml:"tolerance"`
	// MaxWaitMs bounds one axis move; 0 waits forever.
	MaxWaitMs    int    `yaml:"max_wait_ms"`
	HomedPattern string `yaml:"homed_pattern"`
	// Reference is where this particular unit ends up after homing.
	// A G2+ homes to az 0, el 65; other units may not.
	Reference rotator.Position `yaml:"reference"`
	// Latitude, if set, adds hour angle and declination to status.
	Latitude *float64 `yaml:"latitude"`
	Debug    bool     `yaml:"debug"`
	LogLevel string   `yaml:"log_level"`
	// HTTP, if set, serves status and metrics.
	HTTP   string       `yaml:"http"`
	Influx InfluxConfig `yaml:"influx"`
}

func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          "/dev/ttyUSB0",
			Baud:          115200,
			ReadTimeoutMs: 1000,
		},
		Listen:       "127.0.0.1:4533",
		Limits:       rotator.DefaultLimits,
		Tolerance:    0.01,
		HomedPattern: carryout.DefaultHomedPattern,
		Reference:    rotator.Position{Azimuth: 0, Elevation: 65},
		LogLevel:     "info",
		Influx: InfluxConfig{
			Org:    "w1xm",
			Bucket: "carryout",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0, got %d", c.Serial.Baud)
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		return fmt.Errorf("serial.read_timeout_ms must be > 0, got %d", c.Serial.ReadTimeoutMs)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	for _, axis := range []rotator.Axis{rotator.Azimuth, rotator.Elevation} {
		r := c.Limits.Range(axis)
		if r.Min > r.Max {
			return fmt.Errorf("limits.%v: min %g > max %g", axis, r.Min, r.Max)
		}
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be > 0, got %g", c.Tolerance)
	}
	if c.MaxWaitMs < 0 {
		return fmt.Errorf("max_wait_ms must be >= 0, got %d", c.MaxWaitMs)
	}
	if _, err := regexp.Compile(c.HomedPattern); err != nil {
		return fmt.Errorf("homed_pattern: %w", err)
	}
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return fmt.Errorf("latitude must be within [-90, 90], got %g", *c.Latitude)
	}
	if err := c.Limits.ValidatePosition(c.Reference); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	return nil
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// Controller returns the settings for the serial controller.
func (c *Config) Controller() carryout.Config {
	return carryout.Config{
		Limits:       c.Limits,
		Tolerance:    c.Tolerance,
		ReadTimeout:  c.ReadTimeout(),
		MaxWait:      c.MaxWait(),
		HomedPattern: c.HomedPattern,
		Debug:        c.Debug,
	}
}

// Bridge returns the settings for the rotctld session.
func (c *Config) Bridge() rotctld.Config {
	return rotctld.Config{
		Limits:    c.Limits,
		Reference: c.Reference,
	}
}
