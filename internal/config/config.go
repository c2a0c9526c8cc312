// Package config loads the server's runtime configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file,
// then environment variables (via envdecode). This mirrors the teacher
// repo's pkg/config loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
)

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	BatchSize       int    `json:"batch_size" yaml:"batch_size" env:"DATABASE_BATCH_SIZE"`
}

// ConnectionString builds a libpq DSN from host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// QueueConfig controls the Claim Engine and Manager Registry.
type QueueConfig struct {
	HeartbeatFrequencySeconds int `json:"heartbeat_frequency_seconds" yaml:"heartbeat_frequency_seconds" env:"QUEUE_HEARTBEAT_FREQUENCY_SECONDS"`
	StaleManagerMultiplier    int `json:"stale_manager_multiplier" yaml:"stale_manager_multiplier" env:"QUEUE_STALE_MANAGER_MULTIPLIER"`
}

// ServiceEngineConfig controls the Periodic Runner's service_tick job.
type ServiceEngineConfig struct {
	ServiceFrequencySeconds int `json:"service_frequency_seconds" yaml:"service_frequency_seconds" env:"SERVICE_FREQUENCY_SECONDS"`
	MaxActiveServices       int `json:"max_active_services" yaml:"max_active_services" env:"SERVICE_MAX_ACTIVE"`
}

// APILimitsConfig bounds batch sizes accepted by insertion endpoints.
type APILimitsConfig struct {
	ManagerTasksClaim int `json:"manager_tasks_claim" yaml:"manager_tasks_claim" env:"API_LIMIT_MANAGER_TASKS_CLAIM"`
	RecordSubmit      int `json:"record_submit" yaml:"record_submit" env:"API_LIMIT_RECORD_SUBMIT"`
	MoleculeInsert    int `json:"molecule_insert" yaml:"molecule_insert" env:"API_LIMIT_MOLECULE_INSERT"`
}

// Config is the top-level configuration structure.
type Config struct {
	Database DatabaseConfig      `json:"database" yaml:"database"`
	Logging  logging.Config      `json:"logging" yaml:"logging"`
	Queue    QueueConfig         `json:"queue" yaml:"queue"`
	Service  ServiceEngineConfig `json:"service" yaml:"service"`
	Limits   APILimitsConfig     `json:"limits" yaml:"limits"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			SSLMode:        "disable",
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
			BatchSize:      200,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Queue: QueueConfig{
			HeartbeatFrequencySeconds: 60,
			StaleManagerMultiplier:    5,
		},
		Service: ServiceEngineConfig{
			ServiceFrequencySeconds: 30,
			MaxActiveServices:       20,
		},
		Limits: APILimitsConfig{
			ManagerTasksClaim: 1000,
			RecordSubmit:      500,
			MoleculeInsert:    1000,
		},
	}
}

// Load loads configuration from an optional file plus environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
