// Package config defines the process configuration for the emobridge server.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any invalid value causes LoadConfig to fail and the process to exit before
// it starts serving.
package config

import (
	"time"

	"emobridge/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Schedule source kinds.
const (
	ScheduleSourceCSV      = "csv"
	ScheduleSourcePostgres = "postgres"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Schedule      ScheduleConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"5000" validate:"required,numeric"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
}

// ScheduleConfig controls the schedule source and the scheduler loop cadence.
type ScheduleConfig struct {
	Source   string `envconfig:"SCHEDULE_SOURCE" default:"csv" validate:"oneof=csv postgres"`
	CSVPath  string `envconfig:"SCHEDULE_CSV_PATH" default:"updates.csv" validate:"required"`
	Timezone string `envconfig:"SCHEDULE_TIMEZONE" default:"Local" validate:"required"`

	TickInterval    time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"1s" validate:"gt=0"`
	RefreshInterval time.Duration `envconfig:"SCHEDULER_REFRESH_INTERVAL" default:"10s" validate:"gt=0"`

	BootstrapFirstOffset  time.Duration `envconfig:"BOOTSTRAP_FIRST_OFFSET" default:"30s" validate:"gt=0"`
	BootstrapSecondOffset time.Duration `envconfig:"BOOTSTRAP_SECOND_OFFSET" default:"60s" validate:"gt=0"`

	// Location is resolved from Timezone by the loader.
	Location *time.Location `ignored:"true" validate:"-"`
}

// DatabaseConfig holds the PostgreSQL connection used when the schedule
// source is "postgres".
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
}

// AWSConfig holds AWS settings for the optional SQS intake consumer and the
// CloudWatch publisher.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`

	// The intake consumer runs only when the queue URL is set.
	IntakeQueueURL    string `envconfig:"SQS_INTAKE_QUEUE_URL" validate:"omitempty,url"`
	IntakeWaitSeconds int32  `envconfig:"SQS_INTAKE_WAIT_SECONDS" default:"20" validate:"min=0,max=20"`
	IntakeMaxMessages int32  `envconfig:"SQS_INTAKE_MAX_MESSAGES" default:"10" validate:"min=1,max=10"`
	IntakeVisibility  int32  `envconfig:"SQS_INTAKE_VISIBILITY_SECONDS" default:"30" validate:"min=0"`
}

// SecurityConfig holds intake authentication and CORS settings.
type SecurityConfig struct {
	// IntakeTokenHash is a bcrypt hash. When set, /v1 routes require the
	// matching bearer token. The poll endpoint is never authenticated.
	IntakeTokenHash    SecretString `envconfig:"INTAKE_TOKEN_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string        `envconfig:"METRIC_NAMESPACE" default:"EmoBridge" validate:"required"`
	FlushInterval   time.Duration `envconfig:"METRICS_FLUSH_INTERVAL" default:"60s" validate:"gt=0"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a conditionally required variable was not set.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a value (or the .env file) could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
