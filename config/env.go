package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables
// into the string fields of cfg that commonly carry secrets or paths.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Crypto != nil {
		cfg.Crypto.MasterKeyFile = SubstituteEnvVars(cfg.Crypto.MasterKeyFile)
	}

	if cfg.KeyStore != nil && cfg.KeyStore.Postgres != nil {
		cfg.KeyStore.Postgres.Host = SubstituteEnvVars(cfg.KeyStore.Postgres.Host)
		cfg.KeyStore.Postgres.User = SubstituteEnvVars(cfg.KeyStore.Postgres.User)
		cfg.KeyStore.Postgres.Password = SubstituteEnvVars(cfg.KeyStore.Postgres.Password)
		cfg.KeyStore.Postgres.Database = SubstituteEnvVars(cfg.KeyStore.Postgres.Database)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}
}

// GetEnvironment returns the current environment from KDS_ENV or defaults to development.
func GetEnvironment() string {
	env := os.Getenv("KDS_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
