package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DBPath              string   `yaml:"db_path" env:"IATISYNC_DB_PATH"`
	LogLevel            string   `yaml:"log_level" env:"IATISYNC_LOG_LEVEL"`
	LogFile             string   `yaml:"log_file" env:"IATISYNC_LOG_FILE"`
	LogFormat           string   `yaml:"log_format" env:"IATISYNC_LOG_FORMAT"`
	Environment         string   `yaml:"environment" env:"IATISYNC_ENV"`
	Output              string   `yaml:"output" env:"IATISYNC_OUTPUT"`
	DefaultActor        string   `yaml:"default_actor" env:"IATISYNC_ACTOR"`
	DaemonAddr          string   `yaml:"daemon_addr" env:"IATISYNCD_ADDR"`
	DaemonToken         string   `yaml:"daemon_token" env:"IATISYNCD_TOKEN"`
	SupportedCurrencies []string `yaml:"supported_currencies" env:"IATISYNC_SUPPORTED_CURRENCIES" envSeparator:","`
	WebhookURLs         []string `yaml:"webhook_urls" env:"IATISYNC_WEBHOOK_URLS" envSeparator:","`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/iatisync/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Environment: "development",
		Output:      "table",
		DaemonAddr:  "127.0.0.1:7410",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional, but a file that exists must parse
	if err := loadYAMLConfig(cfg); err != nil {
		return nil, err
	}

	// Override with environment variables; unset variables keep the
	// values from the layers above.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}
	if dbPath := getEnvOrFile("IATISYNC_DB_PATH", "IATISYNC_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if cfg.DBPath == "" {
		// Check for project-local database first
		if _, err := os.Stat(".iatisync/iatisync.db"); err == nil {
			cfg.DBPath = ".iatisync/iatisync.db"
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			cfg.DBPath = filepath.Join(homeDir, ".local", "share", "iatisync", "iatisync.db")
		}
	}

	return cfg, nil
}

// IsProduction reports whether stack traces must be withheld from callers
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Actor returns the actor label recorded on import logs and events
func (c *Config) Actor() string {
	if c.DefaultActor != "" {
		return c.DefaultActor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "iatisync"
}

// loadYAMLConfig loads configuration from ~/.config/iatisync/config.yaml.
// A missing file or home directory is not an error.
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	configPath := filepath.Join(homeDir, ".config", "iatisync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
