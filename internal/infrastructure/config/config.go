package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

type Config struct {
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Archiver ArchiverConfig `koanf:"archiver"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type StoreConfig struct {
	// Name prefixes every table so multiple logical stores can share a
	// database. Alphanumeric plus underscore, at most 63 characters.
	Name             string `koanf:"name"`
	ArchiveDirectory string `koanf:"archive_directory"`

	// DefaultRetention and Retention map domains to retention modes:
	// default, cold_archivable, full_history, hard_deletable.
	DefaultRetention string            `koanf:"default_retention"`
	Retention        map[string]string `koanf:"retention"`
}

type ArchiverConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Store: StoreConfig{
			Name:             "eventstore",
			ArchiveDirectory: "archive",
			DefaultRetention: "default",
		},
		Archiver: ArchiverConfig{
			Interval:  0,
			BatchSize: 1000,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional; a missing file falls through to env vars
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("EVENTSTORE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "EVENTSTORE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := event.ValidateStoreName(c.Store.Name); err != nil {
		return err
	}
	if c.Store.ArchiveDirectory == "" {
		return fmt.Errorf("store.archive_directory is required")
	}
	if _, err := c.Store.RetentionPolicies(); err != nil {
		return err
	}
	return nil
}

// RetentionPolicies builds the process-local domain → retention table
// that the event store consults on append.
func (s StoreConfig) RetentionPolicies() (*event.RetentionPolicies, error) {
	fallback, err := event.ParseRetentionMode(s.DefaultRetention)
	if err != nil {
		return nil, err
	}
	byDomain := make(map[string]event.RetentionMode, len(s.Retention))
	for domain, name := range s.Retention {
		mode, err := event.ParseRetentionMode(name)
		if err != nil {
			return nil, fmt.Errorf("retention for domain %q: %w", domain, err)
		}
		byDomain[domain] = mode
	}
	return event.NewRetentionPolicies(fallback, byDomain), nil
}
