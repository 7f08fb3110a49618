package config

import (
	"time"

	"github.com/headline-goat/statwatch/internal/store"
)

// DefaultMonitoring returns the engine defaults.
func DefaultMonitoring() Monitoring {
	return Monitoring{
		SignificanceLevel:       0.05,
		PowerLevel:              0.8,
		MinimumSampleSize:       100,
		MinimumDetectableEffect: 0.05,
		EarlyStoppingEnabled:    true,
		BayesianEnabled:         true,
		MonitoringInterval:      time.Minute,
		MaxTestDuration:         30 * 24 * time.Hour,
		Bayesian: BayesianConfig{
			Estimator:  EstimatorMonteCarlo,
			Draws:      10000,
			PriorAlpha: 1,
			PriorBeta:  1,
		},
		Anomaly: AnomalyConfig{
			SpikeMultiplier:    2,
			RateDeltaThreshold: 0.10,
			MinPatternVisitors: 100,
			BaselineWindows:    12,
			SRMPValue:          0.001,
		},
		Alerts: AlertConfig{
			SeverityThreshold:       store.SeverityHigh,
			EarlyWinnerFraction:     0.5,
			PowerShortfall:          0.2,
			DurationWarningFraction: 0.5,
			LogSize:                 100,
		},
	}
}

// DefaultConfig returns a configuration that passes Validate.
func DefaultConfig() *Config {
	return &Config{
		Monitoring: DefaultMonitoring(),
		Storage: Storage{
			Driver: store.DriverMemory,
			Path:   "./statwatch.db",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "statwatch",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Port: 9090,
		},
	}
}
