// Package config provides configuration management for the KDS.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a KDS instance.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Crypto      *CryptoConfig   `yaml:"crypto" json:"crypto"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Policy      *PolicyConfig   `yaml:"policy" json:"policy"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Server      *ServerConfig   `yaml:"server" json:"server"`
}

// CryptoConfig configures the CryptoEngine (spec §4.1, §6).
type CryptoConfig struct {
	MasterKeyFile string `yaml:"master_key_file" json:"master_key_file"`
	EncType       string `yaml:"enctype" json:"enctype"`
	HashType      string `yaml:"hashtype" json:"hashtype"`
}

// KeyStoreConfig selects and configures the KeyStore backend (spec §4.2, §6).
type KeyStoreConfig struct {
	Backend  string          `yaml:"backend" json:"backend"` // "kv" or "sql"
	Postgres *PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds connection parameters for the SQL-backed KeyStore.
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

// PolicyConfig holds the timing constants the spec calls out as
// configuration (§4.3, §4.4, §9 Open Questions).
type PolicyConfig struct {
	TicketLifetime time.Duration `yaml:"ticket_lifetime" json:"ticket_lifetime"`
	StaleWindow    time.Duration `yaml:"stale_window" json:"stale_window"`
	GraceWindow    time.Duration `yaml:"grace_window" json:"grace_window"`
	GroupKeyTTL    time.Duration `yaml:"group_key_ttl" json:"group_key_ttl"`
	NonceCacheTTL  time.Duration `yaml:"nonce_cache_ttl" json:"nonce_cache_ttl"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// ServerConfig represents the wire-transport bind configuration (spec §6).
type ServerConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	Port        int    `yaml:"port" json:"port"`
}

// Defaults returns a Config filled in with the defaults spec §6
// documents, for callers that run without a config file on disk.
func Defaults() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML (or, as a fallback, JSON) file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format from the
// file extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in the values the spec documents as defaults (§6).
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Crypto == nil {
		cfg.Crypto = &CryptoConfig{}
	}
	if cfg.Crypto.MasterKeyFile == "" {
		cfg.Crypto.MasterKeyFile = "/etc/kds/kds.mkey"
	}
	if cfg.Crypto.EncType == "" {
		cfg.Crypto.EncType = "AES"
	}
	if cfg.Crypto.HashType == "" {
		cfg.Crypto.HashType = "SHA256"
	}

	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStoreConfig{}
	}
	if cfg.KeyStore.Backend == "" {
		cfg.KeyStore.Backend = "kv"
	}

	if cfg.Policy == nil {
		cfg.Policy = &PolicyConfig{}
	}
	if cfg.Policy.TicketLifetime == 0 {
		cfg.Policy.TicketLifetime = time.Hour
	}
	if cfg.Policy.StaleWindow == 0 {
		cfg.Policy.StaleWindow = 2 * time.Minute
	}
	if cfg.Policy.GraceWindow == 0 {
		cfg.Policy.GraceWindow = 10 * time.Minute
	}
	if cfg.Policy.GroupKeyTTL == 0 {
		cfg.Policy.GroupKeyTTL = 15 * time.Minute
	}
	if cfg.Policy.NonceCacheTTL == 0 {
		cfg.Policy.NonceCacheTTL = cfg.Policy.TicketLifetime
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8443
	}
}
