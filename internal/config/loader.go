package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error type returned by Load.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads the configuration:
//  1. Enforces UTC as the process timezone. Every SLA deadline comparison
//     assumes UTC; a host-local timezone would shift grace windows.
//  2. Loads a .env file if present (never overrides real env vars).
//  3. Populates the Config struct from envconfig tags.
//  4. Validates the populated struct.
func Load() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "parse",
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}
