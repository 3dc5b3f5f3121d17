// Package config loads the engine configuration from the environment and
// optimization problems from YAML files.
package config

import (
	"strings"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap/zapcore"

	"github.com/copyleftdev/paramopt/internal/logging"
	"github.com/copyleftdev/paramopt/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	Logging     struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		MaxIterations          int     `env:"OPT_MAX_ITERATIONS" envDefault:"100"`
		ConvergenceTolerance   float64 `env:"OPT_CONVERGENCE_TOLERANCE" envDefault:"0.001"`
		PopulationSize         int     `env:"OPT_POPULATION_SIZE" envDefault:"50"`
		WorkerCount            int     `env:"OPT_WORKER_COUNT" envDefault:"1"`
		HistoryLimit           int     `env:"OPT_HISTORY_LIMIT" envDefault:"500"`
		MaxConsecutiveFailures int     `env:"OPT_MAX_CONSECUTIVE_FAILURES" envDefault:"3"`
		RandomSeed             int64   `env:"OPT_RANDOM_SEED" envDefault:"0"`
	}
	Metrics struct {
		// Addr of the Prometheus listener; empty disables it
		Addr string `env:"METRICS_ADDR"`
	}
}

func Load() (*Config, error) {
	const op = "config.Load"

	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, optimization.NewConfigurationError(op, "parse environment: %v", err)
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the logging settings and the optimization defaults.
func (c *Config) Validate() error {
	const op = "Config.Validate"

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return optimization.NewConfigurationError(op, "LOG_LEVEL: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		return optimization.NewConfigurationError(op, "LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	if c.Optimization.WorkerCount < 1 {
		return optimization.NewConfigurationError(op, "OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount)
	}
	return c.OptimizationConfig().Validate()
}

// OptimizationConfig returns the default run configuration. The logger and
// progress callback are left for the caller.
func (c *Config) OptimizationConfig() optimization.Config {
	o := c.Optimization
	return optimization.Config{
		MaxIterations:          o.MaxIterations,
		Tolerance:              o.ConvergenceTolerance,
		PopulationSize:         o.PopulationSize,
		Workers:                o.WorkerCount,
		HistoryLimit:           o.HistoryLimit,
		MaxConsecutiveFailures: o.MaxConsecutiveFailures,
		RandomSeed:             o.RandomSeed,
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
