// Package config holds the statwatch configuration: engine tunables,
// storage, logging and the operational HTTP server.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/headline-goat/statwatch/internal/stats"
	"github.com/headline-goat/statwatch/internal/store"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	EstimatorMonteCarlo          = stats.EstimatorMonteCarlo
	EstimatorNormalApproximation = stats.EstimatorNormalApproximation
)

type Config struct {
	Monitoring Monitoring   `yaml:"monitoring" env:"MONITORING"`
	Storage    Storage      `yaml:"storage" env:"STORAGE"`
	Log        LogConfig    `yaml:"log" env:"LOG"`
	Server     ServerConfig `yaml:"server" env:"SERVER"`
}

// Monitoring is the configuration snapshot read by every analysis pass.
// It is a plain value: copies never share state.
type Monitoring struct {
	SignificanceLevel       float64       `yaml:"significance_level" env:"SIGNIFICANCE_LEVEL"`
	PowerLevel              float64       `yaml:"power_level" env:"POWER_LEVEL"`
	MinimumSampleSize       uint64        `yaml:"minimum_sample_size" env:"MINIMUM_SAMPLE_SIZE"`
	MinimumDetectableEffect float64       `yaml:"minimum_detectable_effect" env:"MINIMUM_DETECTABLE_EFFECT"`
	EarlyStoppingEnabled    bool          `yaml:"early_stopping_enabled" env:"EARLY_STOPPING_ENABLED"`
	BayesianEnabled         bool          `yaml:"bayesian_enabled" env:"BAYESIAN_ENABLED"`
	MonitoringInterval      time.Duration `yaml:"monitoring_interval" env:"MONITORING_INTERVAL"`
	MaxTestDuration         time.Duration `yaml:"max_test_duration" env:"MAX_TEST_DURATION"`

	Bayesian BayesianConfig `yaml:"bayesian" env:"BAYESIAN"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" env:"ANOMALY"`
	Alerts   AlertConfig    `yaml:"alerts" env:"ALERTS"`
}

type BayesianConfig struct {
	// monte_carlo or normal_approximation
	Estimator  string  `yaml:"estimator" env:"ESTIMATOR"`
	Draws      int     `yaml:"draws" env:"DRAWS"`
	PriorAlpha float64 `yaml:"prior_alpha" env:"PRIOR_ALPHA"`
	PriorBeta  float64 `yaml:"prior_beta" env:"PRIOR_BETA"`
}

type AnomalyConfig struct {
	// Current-window traffic divided by the baseline mean that counts as a spike.
	SpikeMultiplier float64 `yaml:"spike_multiplier" env:"SPIKE_MULTIPLIER"`
	// Absolute conversion-rate gap between two arms that counts as unusual.
	RateDeltaThreshold float64 `yaml:"rate_delta_threshold" env:"RATE_DELTA_THRESHOLD"`
	MinPatternVisitors uint64  `yaml:"min_pattern_visitors" env:"MIN_PATTERN_VISITORS"`
	BaselineWindows    int     `yaml:"baseline_windows" env:"BASELINE_WINDOWS"`
	SRMPValue          float64 `yaml:"srm_p_value" env:"SRM_P_VALUE"`
}

type AlertConfig struct {
	SeverityThreshold       store.Severity `yaml:"severity_threshold" env:"SEVERITY_THRESHOLD"`
	EarlyWinnerFraction     float64        `yaml:"early_winner_fraction" env:"EARLY_WINNER_FRACTION"`
	PowerShortfall          float64        `yaml:"power_shortfall" env:"POWER_SHORTFALL"`
	DurationWarningFraction float64        `yaml:"duration_warning_fraction" env:"DURATION_WARNING_FRACTION"`
	LogSize                 int            `yaml:"log_size" env:"LOG_SIZE"`
}

type Storage struct {
	// memory, sqlite or redis
	Driver string      `yaml:"driver" env:"DRIVER"`
	Path   string      `yaml:"path" env:"PATH"`
	Redis  RedisConfig `yaml:"redis" env:"REDIS"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json or console
	Format string `yaml:"format" env:"FORMAT"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// StoreOptions converts the storage section for store.New.
func (s Storage) StoreOptions() store.Options {
	return store.Options{
		Driver: s.Driver,
		Path:   s.Path,
		Redis: store.RedisOptions{
			Addr:      s.Redis.Addr,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
			TTL:       s.Redis.TTL,
		},
	}
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

func openUnit(field string, v float64) error {
	if v <= 0 || v >= 1 {
		return invalid(field, "must be in (0, 1), got %v", v)
	}
	return nil
}

// Validate checks every field of the monitoring snapshot.
func (m Monitoring) Validate() error {
	if err := openUnit("significance_level", m.SignificanceLevel); err != nil {
		return err
	}
	if err := openUnit("power_level", m.PowerLevel); err != nil {
		return err
	}
	if err := openUnit("minimum_detectable_effect", m.MinimumDetectableEffect); err != nil {
		return err
	}
	if m.MonitoringInterval <= 0 {
		return invalid("monitoring_interval", "must be positive, got %s", m.MonitoringInterval)
	}
	if m.MaxTestDuration <= 0 {
		return invalid("max_test_duration", "must be positive, got %s", m.MaxTestDuration)
	}

	switch m.Bayesian.Estimator {
	case EstimatorMonteCarlo:
		if m.Bayesian.Draws < 100 {
			return invalid("bayesian.draws", "must be at least 100, got %d", m.Bayesian.Draws)
		}
	case EstimatorNormalApproximation:
	default:
		return invalid("bayesian.estimator", "must be %s or %s, got %q",
			EstimatorMonteCarlo, EstimatorNormalApproximation, m.Bayesian.Estimator)
	}
	if m.Bayesian.PriorAlpha <= 0 || m.Bayesian.PriorBeta <= 0 {
		return invalid("bayesian.prior", "parameters must be positive, got (%v, %v)",
			m.Bayesian.PriorAlpha, m.Bayesian.PriorBeta)
	}

	if m.Anomaly.SpikeMultiplier <= 1 {
		return invalid("anomaly.spike_multiplier", "must be above 1, got %v", m.Anomaly.SpikeMultiplier)
	}
	if err := openUnit("anomaly.rate_delta_threshold", m.Anomaly.RateDeltaThreshold); err != nil {
		return err
	}
	if m.Anomaly.BaselineWindows < 1 {
		return invalid("anomaly.baseline_windows", "must be at least 1, got %d", m.Anomaly.BaselineWindows)
	}
	if err := openUnit("anomaly.srm_p_value", m.Anomaly.SRMPValue); err != nil {
		return err
	}

	if m.Alerts.SeverityThreshold < store.SeverityLow || m.Alerts.SeverityThreshold > store.SeverityCritical {
		return invalid("alerts.severity_threshold", "unknown severity %d", m.Alerts.SeverityThreshold)
	}
	if err := openUnit("alerts.early_winner_fraction", m.Alerts.EarlyWinnerFraction); err != nil {
		return err
	}
	if m.Alerts.PowerShortfall < 0 || m.Alerts.PowerShortfall >= 1 {
		return invalid("alerts.power_shortfall", "must be in [0, 1), got %v", m.Alerts.PowerShortfall)
	}
	if m.Alerts.DurationWarningFraction <= 0 || m.Alerts.DurationWarningFraction > 1 {
		return invalid("alerts.duration_warning_fraction", "must be in (0, 1], got %v", m.Alerts.DurationWarningFraction)
	}
	if m.Alerts.LogSize < 0 {
		return invalid("alerts.log_size", "must not be negative, got %d", m.Alerts.LogSize)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Monitoring.Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case store.DriverMemory:
	case store.DriverSQLite:
		if c.Storage.Path == "" {
			return invalid("storage.path", "is required for the sqlite driver")
		}
	case store.DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return invalid("storage.redis.addr", "is required for the redis driver")
		}
	default:
		return invalid("storage.driver", "must be memory, sqlite or redis, got %q", c.Storage.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format", "must be json or console, got %q", c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port", "out of range: %d", c.Server.Port)
	}
	return nil
}
