// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (absent file is fine, a malformed one is not).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Populate BuildInfo from linker-injected variables.
//  4. Validate the struct using go-playground/validator.
//  5. Apply cross-field rules and resolve the schedule timezone.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
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

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without touching the working directory or the zone database.
type loaderDeps struct {
	loadDotenv   func(filenames ...string) error
	loadLocation func(name string) (*time.Location, error)
}

// defaultDeps returns the standard dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		loadDotenv:   godotenv.Load,
		loadLocation: time.LoadLocation,
	}
}

// LoadConfig loads and validates the process configuration.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	// godotenv does NOT override variables already present in the environment.
	if err := deps.loadDotenv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to parse .env file",
			Err:     err,
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if cfg.Schedule.Source == ScheduleSourcePostgres && !cfg.Database.URL.IsSet() {
		return nil, &ConfigError{
			Type:    ErrMissingEnv,
			Message: "DATABASE_URL is required when SCHEDULE_SOURCE=postgres",
		}
	}

	loc, err := deps.loadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: fmt.Sprintf("unknown SCHEDULE_TIMEZONE %q", cfg.Schedule.Timezone),
			Err:     err,
		}
	}
	cfg.Schedule.Location = loc

	return &cfg, nil
}
