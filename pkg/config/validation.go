package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/dbehnke/packet-nexus/pkg/packetizer"
)

// validate validates the configuration
func validate(config *Config) error {
	// Validate profiles
	if len(config.Profiles) == 0 {
		return fmt.Errorf("profiles: at least one profile is required")
	}
	seen := make(map[string]bool, len(config.Profiles))
	for i, p := range config.Profiles {
		if err := validateProfile(&p); err != nil {
			return fmt.Errorf("profile config[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("profile config[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}

	// Validate link configuration
	if err := validateLink(&config.Link, seen); err != nil {
		return fmt.Errorf("link config: %w", err)
	}

	// Validate web configuration
	if err := validateWeb(&config.Web); err != nil {
		return fmt.Errorf("web config: %w", err)
	}

	// Validate archive configuration
	if err := validateArchive(&config.Archive); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	// Validate logging configuration
	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	// Validate metrics configuration
	if err := validateMetrics(&config.Metrics); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// validateProfile validates one packetizer profile
func validateProfile(config *ProfileConfig) error {
	if config.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if config.MessageLength < 0 {
		return fmt.Errorf("message_length cannot be negative")
	}

	if config.MessageLength > packetizer.MaxMessageLength {
		return fmt.Errorf("message_length %d exceeds %d", config.MessageLength, packetizer.MaxMessageLength)
	}

	if _, _, _, err := config.Schemes(); err != nil {
		return err
	}

	return nil
}

// validateLink validates UDP link configuration
func validateLink(config *LinkConfig, profiles map[string]bool) error {
	if !config.Enabled {
		return nil
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}

	if !profiles[config.Profile] {
		return fmt.Errorf("unknown profile %q", config.Profile)
	}

	return nil
}

// validateWeb validates web configuration
func validateWeb(config *WebConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}

	return nil
}

// validateArchive validates archive configuration
func validateArchive(config *ArchiveConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if config.Retention < 0 {
		return fmt.Errorf("retention cannot be negative")
	}

	if config.PruneSchedule != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(config.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune_schedule: %w", err)
		}
	}

	return nil
}

// validateLogging validates logging configuration
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			config.Level, strings.Join(validLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)",
			config.Format, strings.Join(validFormats, ", "))
	}

	if config.MaxSize < 1 {
		return fmt.Errorf("max_size must be at least 1")
	}

	if config.MaxBackups < 0 {
		return fmt.Errorf("max_backups cannot be negative")
	}

	if config.MaxAge < 0 {
		return fmt.Errorf("max_age cannot be negative")
	}

	return nil
}

// validateMetrics validates metrics configuration
func validateMetrics(config *MetricsConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if !strings.HasPrefix(config.Path, "/") {
		return fmt.Errorf("path must start with /")
	}

	return nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
