// Package anomaly flags traffic and conversion patterns in an experiment
// snapshot that deserve a human look before its statistics are trusted.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/store"
)

// Rule inspects one snapshot and reports at most one anomaly.
type Rule func(m store.TestMetrics, b Baseline, cfg config.AnomalyConfig) (store.Anomaly, bool)

// Detector runs a set of rules. It holds no state between calls.
type Detector struct {
	Rules []Rule
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{TrafficSpike, UnusualPattern, SampleRatioMismatch}
}

func NewDetector(extra ...Rule) *Detector {
	return &Detector{Rules: append(DefaultRules(), extra...)}
}

// Detect runs every rule and derives the risk level from the most severe
// finding. A clean snapshot yields an empty list and low risk.
func (d *Detector) Detect(m store.TestMetrics, b Baseline, cfg config.AnomalyConfig, now time.Time) store.AnomalyReport {
	report := store.AnomalyReport{
		Anomalies: []store.Anomaly{},
		RiskLevel: store.SeverityLow,
		Timestamp: now,
	}
	for _, rule := range d.Rules {
		a, ok := rule(m, b, cfg)
		if !ok {
			continue
		}
		report.Anomalies = append(report.Anomalies, a)
		if a.Severity > report.RiskLevel {
			report.RiskLevel = a.Severity
		}
	}
	return report
}

// TrafficSpike fires when the visitors since the previous snapshot exceed
// SpikeMultiplier times the mean of the prior windows.
func TrafficSpike(m store.TestMetrics, b Baseline, cfg config.AnomalyConfig) (store.Anomaly, bool) {
	mean, ok := b.Mean()
	if !ok || mean <= 0 {
		return store.Anomaly{}, false
	}

	total, _ := m.Totals()
	current := float64(b.CurrentWindow(total))
	ratio := current / mean
	multiplier := cfg.SpikeMultiplier
	if ratio < multiplier {
		return store.Anomaly{}, false
	}

	severity := store.SeverityMedium
	switch {
	case ratio >= 4*multiplier:
		severity = store.SeverityCritical
	case ratio >= 2*multiplier:
		severity = store.SeverityHigh
	}
	return store.Anomaly{
		Type:     store.AnomalyTrafficSpike,
		Severity: severity,
		Detail: fmt.Sprintf("%.0f visitors this window is %.1fx the baseline of %.0f per window",
			current, ratio, mean),
	}, true
}

// UnusualPattern fires when two sufficiently sampled arms differ in
// conversion rate by more than RateDeltaThreshold. Severity grows with the
// gap relative to the pooled rate.
func UnusualPattern(m store.TestMetrics, _ Baseline, cfg config.AnomalyConfig) (store.Anomaly, bool) {
	minRate, maxRate := math.Inf(1), math.Inf(-1)
	var minID, maxID string
	var visitors, conversions float64
	eligible := 0
	for _, v := range m.Variations {
		if v.Visitors == 0 || v.Visitors < cfg.MinPatternVisitors {
			continue
		}
		eligible++
		rate := v.Rate()
		if rate < minRate {
			minRate, minID = rate, v.VariationID
		}
		if rate > maxRate {
			maxRate, maxID = rate, v.VariationID
		}
		visitors += float64(v.Visitors)
		conversions += rate * float64(v.Visitors)
	}
	if eligible < 2 {
		return store.Anomaly{}, false
	}

	delta := maxRate - minRate
	if delta <= cfg.RateDeltaThreshold {
		return store.Anomaly{}, false
	}

	pooled := conversions / visitors
	relative := math.Inf(1)
	if pooled > 0 {
		relative = delta / pooled
	}

	severity := store.SeverityCritical
	switch {
	case relative < 1:
		severity = store.SeverityMedium
	case relative < 2:
		severity = store.SeverityHigh
	}
	return store.Anomaly{
		Type:     store.AnomalyUnusualPattern,
		Severity: severity,
		Detail: fmt.Sprintf("conversion rates of %s (%.2f%%) and %s (%.2f%%) differ by %.1f points against a pooled rate of %.2f%%",
			maxID, maxRate*100, minID, minRate*100, delta*100, pooled*100),
	}, true
}

// SampleRatioMismatch fires when the visitor split departs from an even
// allocation by more than chance explains (chi-square goodness of fit).
func SampleRatioMismatch(m store.TestMetrics, _ Baseline, cfg config.AnomalyConfig) (store.Anomaly, bool) {
	k := len(m.Variations)
	if k < 2 {
		return store.Anomaly{}, false
	}

	var total float64
	for _, v := range m.Variations {
		total += float64(v.Visitors)
	}
	if total == 0 || total < float64(cfg.MinPatternVisitors) {
		return store.Anomaly{}, false
	}

	expected := total / float64(k)
	chi2 := 0.0
	for _, v := range m.Variations {
		d := float64(v.Visitors) - expected
		chi2 += d * d / expected
	}

	p := distuv.ChiSquared{K: float64(k - 1)}.Survival(chi2)
	if math.IsNaN(p) || p >= cfg.SRMPValue {
		return store.Anomaly{}, false
	}
	return store.Anomaly{
		Type:     store.AnomalySampleRatioMismatch,
		Severity: store.SeverityHigh,
		Detail:   fmt.Sprintf("visitor split across %d variations is uneven (chi-square %.1f, p=%.2g)", k, chi2, p),
	}, true
}
