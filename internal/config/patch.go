package config

import (
	"time"
)

// Patch is a partial update of Monitoring. Nil fields are left unchanged;
// nested sections are replaced as a whole.
type Patch struct {
	SignificanceLevel       *float64       `yaml:"significance_level,omitempty"`
	PowerLevel              *float64       `yaml:"power_level,omitempty"`
	MinimumSampleSize       *uint64        `yaml:"minimum_sample_size,omitempty"`
	MinimumDetectableEffect *float64       `yaml:"minimum_detectable_effect,omitempty"`
	EarlyStoppingEnabled    *bool          `yaml:"early_stopping_enabled,omitempty"`
	BayesianEnabled         *bool          `yaml:"bayesian_enabled,omitempty"`
	MonitoringInterval      *time.Duration `yaml:"monitoring_interval,omitempty"`
	MaxTestDuration         *time.Duration `yaml:"max_test_duration,omitempty"`

	Bayesian *BayesianConfig `yaml:"bayesian,omitempty"`
	Anomaly  *AnomalyConfig  `yaml:"anomaly,omitempty"`
	Alerts   *AlertConfig    `yaml:"alerts,omitempty"`
}

// Apply merges p into m and validates the result. On error m is returned
// unchanged together with the validation error.
func (m Monitoring) Apply(p Patch) (Monitoring, error) {
	out := m
	if p.SignificanceLevel != nil {
		out.SignificanceLevel = *p.SignificanceLevel
	}
	if p.PowerLevel != nil {
		out.PowerLevel = *p.PowerLevel
	}
	if p.MinimumSampleSize != nil {
		out.MinimumSampleSize = *p.MinimumSampleSize
	}
	if p.MinimumDetectableEffect != nil {
		out.MinimumDetectableEffect = *p.MinimumDetectableEffect
	}
	if p.EarlyStoppingEnabled != nil {
		out.EarlyStoppingEnabled = *p.EarlyStoppingEnabled
	}
	if p.BayesianEnabled != nil {
		out.BayesianEnabled = *p.BayesianEnabled
	}
	if p.MonitoringInterval != nil {
		out.MonitoringInterval = *p.MonitoringInterval
	}
	if p.MaxTestDuration != nil {
		out.MaxTestDuration = *p.MaxTestDuration
	}
	if p.Bayesian != nil {
		out.Bayesian = *p.Bayesian
	}
	if p.Anomaly != nil {
		out.Anomaly = *p.Anomaly
	}
	if p.Alerts != nil {
		out.Alerts = *p.Alerts
	}

	if err := out.Validate(); err != nil {
		return m, err
	}
	return out, nil
}

// Diff returns the patch that turns m into next.
func (m Monitoring) Diff(next Monitoring) Patch {
	var p Patch
	if next.SignificanceLevel != m.SignificanceLevel {
		p.SignificanceLevel = &next.SignificanceLevel
	}
	if next.PowerLevel != m.PowerLevel {
		p.PowerLevel = &next.PowerLevel
	}
	if next.MinimumSampleSize != m.MinimumSampleSize {
		p.MinimumSampleSize = &next.MinimumSampleSize
	}
	if next.MinimumDetectableEffect != m.MinimumDetectableEffect {
		p.MinimumDetectableEffect = &next.MinimumDetectableEffect
	}
	if next.EarlyStoppingEnabled != m.EarlyStoppingEnabled {
		p.EarlyStoppingEnabled = &next.EarlyStoppingEnabled
	}
	if next.BayesianEnabled != m.BayesianEnabled {
		p.BayesianEnabled = &next.BayesianEnabled
	}
	if next.MonitoringInterval != m.MonitoringInterval {
		p.MonitoringInterval = &next.MonitoringInterval
	}
	if next.MaxTestDuration != m.MaxTestDuration {
		p.MaxTestDuration = &next.MaxTestDuration
	}
	if next.Bayesian != m.Bayesian {
		p.Bayesian = &next.Bayesian
	}
	if next.Anomaly != m.Anomaly {
		p.Anomaly = &next.Anomaly
	}
	if next.Alerts != m.Alerts {
		p.Alerts = &next.Alerts
	}
	return p
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}
