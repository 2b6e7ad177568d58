// Package config loads runner configuration from weft.yaml with environment
// variable overrides. Environment variables always win over YAML values;
// secrets (PGPASSWORD) come only from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultFile is the project configuration file looked up next to the
// script directory.
const DefaultFile = "weft.yaml"

// Config holds all configuration for a weft invocation.
type Config struct {
	// Root is the script directory to process.
	Root string `yaml:"root" env:"WEFT_ROOT" env-default:"."`

	// Ignore lists glob patterns for scripts to skip during discovery.
	Ignore []string `yaml:"ignore" env:"WEFT_IGNORE" env-separator:","`

	// Jobs caps concurrent script executions within a batch. Zero means
	// one goroutine per node in the batch.
	Jobs int `yaml:"jobs" env:"WEFT_JOBS" env-default:"0"`

	// DryRun computes and prints the plan without executing or loading.
	DryRun bool `yaml:"-" env:"WEFT_DRY_RUN" env-default:"false"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" env:"WEFT_VERBOSE" env-default:"false"`

	// Ledger controls whether per-node outcomes are recorded in the
	// weft_runs table after a run.
	Ledger bool `yaml:"ledger" env:"WEFT_LEDGER" env-default:"true"`

	// Database is the destination PostgreSQL connection.
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds destination database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"weft"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"weft"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// Load reads path (or DefaultFile when empty) with environment overrides.
// A missing file is not an error; the environment alone is enough to run.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// URL returns a PostgreSQL connection URL with user-provided fields escaped,
// so passwords containing @, / or # survive parsing.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
