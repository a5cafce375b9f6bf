package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/crc"
)

// Config represents the application configuration
type Config struct {
	Profiles []ProfileConfig `mapstructure:"profiles"`
	Link     LinkConfig      `mapstructure:"link"`
	Web      WebConfig       `mapstructure:"web"`
	Archive  ArchiveConfig   `mapstructure:"archive"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
}

// ProfileConfig describes one named packetizer
type ProfileConfig struct {
	Name          string `mapstructure:"name" json:"name" yaml:"name"`
	MessageLength int    `mapstructure:"message_length" json:"message_length" yaml:"message_length"`
	CRC           string `mapstructure:"crc" json:"crc" yaml:"crc"`
	FEC0          string `mapstructure:"fec0" json:"fec0" yaml:"fec0"`
	FEC1          string `mapstructure:"fec1" json:"fec1" yaml:"fec1"`
}

// LinkConfig holds the UDP link configuration
type LinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Profile names the packetizer used for every datagram on the link
	Profile string `mapstructure:"profile"`
	// Debug enables hexdump logging of every datagram
	Debug bool `mapstructure:"debug"`
}

// WebConfig holds HTTP API configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ArchiveConfig holds packet archive configuration
type ArchiveConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
	// PruneSchedule is a cron expression with an optional seconds field
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultProfile is used when the configuration names no profiles
func DefaultProfile() ProfileConfig {
	return ProfileConfig{
		Name:          "default",
		MessageLength: 64,
		CRC:           "crc32",
		FEC0:          "hamming74",
		FEC1:          "v27",
	}
}

// Schemes resolves the profile's scheme names
func (p ProfileConfig) Schemes() (crc.Scheme, codec.Scheme, codec.Scheme, error) {
	check, err := crc.Parse(p.CRC)
	if err != nil {
		return crc.Unknown, codec.Unknown, codec.Unknown, err
	}
	fec0, err := codec.ParseScheme(p.FEC0)
	if err != nil {
		return crc.Unknown, codec.Unknown, codec.Unknown, fmt.Errorf("fec0: %w", err)
	}
	fec1, err := codec.ParseScheme(p.FEC1)
	if err != nil {
		return crc.Unknown, codec.Unknown, codec.Unknown, fmt.Errorf("fec1: %w", err)
	}
	return check, fec0, fec1, nil
}

// Profile returns the named profile
func (c *Config) Profile(name string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/packet-nexus")
	}

	v.SetEnvPrefix("PACKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Profiles) == 0 {
		config.Profiles = []ProfileConfig{DefaultProfile()}
	}
	applyProfileEnvOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Link defaults
	v.SetDefault("link.enabled", true)
	v.SetDefault("link.host", "0.0.0.0")
	v.SetDefault("link.port", 47000)
	v.SetDefault("link.profile", "default")
	v.SetDefault("link.debug", false)

	// Web defaults
	v.SetDefault("web.enabled", true)
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./data/archive")
	v.SetDefault("archive.retention", "168h")
	v.SetDefault("archive.prune_schedule", "0 * * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// applyProfileEnvOverrides lets the environment override individual profile
// fields, which AutomaticEnv cannot reach inside a list.
// Env var pattern: PROFILE_<NAME>_<FIELD> (name uppercased, non-alnum -> _)
// with FIELD one of MESSAGE_LENGTH, CRC, FEC0, FEC1.
func applyProfileEnvOverrides(cfg *Config) {
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		prefix := "PROFILE_" + envName(p.Name) + "_"

		if s := os.Getenv(prefix + "MESSAGE_LENGTH"); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				p.MessageLength = n
			}
		}
		if s := os.Getenv(prefix + "CRC"); s != "" {
			p.CRC = s
		}
		if s := os.Getenv(prefix + "FEC0"); s != "" {
			p.FEC0 = s
		}
		if s := os.Getenv(prefix + "FEC1"); s != "" {
			p.FEC1 = s
		}
	}
}

// envName uppercases name and replaces every non-alphanumeric rune with '_'
func envName(name string) string {
	sanitized := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if r >= 'a' && r <= 'z' {
				r = r - 'a' + 'A'
			}
			sanitized = append(sanitized, r)
		} else {
			sanitized = append(sanitized, '_')
		}
	}
	return string(sanitized)
}
