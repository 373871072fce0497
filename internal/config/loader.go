// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so stored and compared timestamps agree.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads and validates the service configuration.
// dotenvFiles are passed to godotenv; with none, ./.env is tried.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	time.Local = time.UTC

	// godotenv does NOT override variables already present in the environment.
	_ = godotenv.Load(dotenvFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Server.PublicBaseURL = strings.TrimSuffix(cfg.Server.PublicBaseURL, "/")
	cfg.Identity.SupabaseURL = strings.TrimSuffix(cfg.Identity.SupabaseURL, "/")
	cfg.Provider.BaseURL = strings.TrimSuffix(cfg.Provider.BaseURL, "/")
	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct validation and the cross-field checks tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns),
		}
	}

	return nil
}
