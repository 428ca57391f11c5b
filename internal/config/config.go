// Package config loads servobus settings from an optional YAML file, a .env
// file and SERVOBUS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hipsterbrown/servobus/session"
)

// EnvPrefix is prepended to every environment override, e.g.
// SERVOBUS_SERVER_PORT.
const EnvPrefix = "SERVOBUS"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Serial  SerialConfig  `mapstructure:"serial"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig holds defaults for scans and connections.
type SerialConfig struct {
	DefaultProtocol string `mapstructure:"default_protocol"`
	DefaultBaudrate int    `mapstructure:"default_baudrate"`
	ScanIDStart     int    `mapstructure:"scan_id_start"`
	ScanIDEnd       int    `mapstructure:"scan_id_end"`
}

// FlagKeys maps command line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"log-output": "logging.output",
	"host":       "server.host",
	"http-port":  "server.port",
	"protocol":   "serial.default_protocol",
	"baudrate":   "serial.default_baudrate",
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment apply. Flags listed in FlagKeys that were set on
// the command line override everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("unable to bind flag %s: %w", name, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults
	v.SetDefault("serial.default_protocol", "2.0")
	v.SetDefault("serial.default_baudrate", 57600)
	v.SetDefault("serial.scan_id_start", 0)
	v.SetDefault("serial.scan_id_end", 252)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validFormats := []string{"json", "console"}
	if !slices.Contains(validFormats, config.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}

	if _, err := session.ParseProtocol(config.Serial.DefaultProtocol); err != nil {
		return fmt.Errorf("serial.default_protocol: %w", err)
	}
	if config.Serial.DefaultBaudrate <= 0 {
		return fmt.Errorf("serial.default_baudrate must be positive")
	}
	if config.Serial.ScanIDStart < 0 || config.Serial.ScanIDEnd > 255 || config.Serial.ScanIDStart > config.Serial.ScanIDEnd {
		return fmt.Errorf("serial scan range %d-%d is invalid", config.Serial.ScanIDStart, config.Serial.ScanIDEnd)
	}

	return nil
}

// ServerAddr returns the address the HTTP server listens on
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
