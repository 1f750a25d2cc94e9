package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	dErrors "issuesink/pkg/domain-errors"
	"issuesink/pkg/validation"
)

// Environment variables read by FromEnv.
const (
	EnvEndpoint    = "ISSUESINK_ENDPOINT"
	EnvUsername    = "ISSUESINK_USERNAME"
	EnvPassword    = "ISSUESINK_PASSWORD"
	EnvProject     = "ISSUESINK_PROJECT"
	EnvPolicyFile  = "ISSUESINK_POLICY_FILE"
	EnvBatchSize   = "ISSUESINK_BATCH_SIZE"
	EnvPeriod      = "ISSUESINK_PERIOD"
	EnvMinLevel    = "ISSUESINK_MIN_LEVEL"
	EnvMetricsAddr = "ISSUESINK_METRICS_ADDR"
	EnvLogLevel    = "ISSUESINK_LOG_LEVEL"
)

// Config captures everything the issuesink command needs to report to a
// tracker.
type Config struct {
	Endpoint string `env:"ISSUESINK_ENDPOINT" validate:"required,url"`
	Username string `env:"ISSUESINK_USERNAME" validate:"required"`
	Password string `env:"ISSUESINK_PASSWORD" validate:"required"`

	// Project may come from the policy file instead.
	Project    string `env:"ISSUESINK_PROJECT" validate:"required_without=PolicyFile"`
	PolicyFile string `env:"ISSUESINK_POLICY_FILE"`

	BatchSize int           `env:"ISSUESINK_BATCH_SIZE" validate:"min=1,max=1000"`
	Period    time.Duration `env:"ISSUESINK_PERIOD" validate:"min=10ms"`
	MinLevel  slog.Level    `env:"ISSUESINK_MIN_LEVEL"`

	// MetricsAddr enables the /metrics and /health listener when set.
	MetricsAddr string     `env:"ISSUESINK_METRICS_ADDR"`
	LogLevel    slog.Level `env:"ISSUESINK_LOG_LEVEL"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BatchSize: 10,
		Period:    time.Second,
		MinLevel:  slog.LevelError,
		LogLevel:  slog.LevelInfo,
	}
}

// FromEnv builds a Config from environment variables on top of Default so
// main stays lean. Malformed numbers, durations and levels are reported
// together; required settings are checked by Validate.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	cfg.Endpoint = get(EnvEndpoint)
	cfg.Username = get(EnvUsername)
	cfg.Password = get(EnvPassword)
	cfg.Project = get(EnvProject)
	cfg.PolicyFile = get(EnvPolicyFile)
	cfg.MetricsAddr = get(EnvMetricsAddr)

	var errs []error
	if v := get(EnvBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvBatchSize, err))
		} else {
			cfg.BatchSize = n
		}
	}
	if v := get(EnvPeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvPeriod, err))
		} else {
			cfg.Period = d
		}
	}
	if v := get(EnvMinLevel); v != "" {
		if err := cfg.MinLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMinLevel, err))
		}
	}
	if v := get(EnvLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvLogLevel, err))
		}
	}

	if len(errs) > 0 {
		return cfg, &dErrors.Error{
			Code:    dErrors.CodeConfiguration,
			Message: "invalid environment",
			Err:     errors.Join(errs...),
		}
	}
	return cfg, nil
}

// Validate checks required settings and ranges.
func (c Config) Validate() error {
	return validation.Validate(c)
}

// LogValue keeps the password out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", c.Endpoint),
		slog.String("username", c.Username),
		slog.String("project", c.Project),
		slog.String("policy_file", c.PolicyFile),
		slog.Int("batch_size", c.BatchSize),
		slog.Duration("period", c.Period),
		slog.String("min_level", c.MinLevel.String()),
		slog.String("metrics_addr", c.MetricsAddr),
	)
}
