// Package decision turns the outputs of one analysis pass into a
// recommended action and the alerts that pass should raise.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/stats"
	"github.com/headline-goat/statwatch/internal/store"
)

// RecommendedAction is stop only when the headline comparison is
// significant, early stopping is enabled and the achieved power has reached
// the configured level.
func RecommendedAction(cfg config.Monitoring, freq store.FrequentistResult) store.Action {
	if freq.IsSignificant && cfg.EarlyStoppingEnabled && freq.PowerAnalysis.CurrentPower >= cfg.PowerLevel {
		return store.ActionStop
	}
	return store.ActionContinue
}

// Elapsed returns how long the test has been running at now. It returns
// zero when the start time is unknown or in the future.
func Elapsed(m store.TestMetrics, now time.Time) time.Duration {
	if m.StartTime.IsZero() || !now.After(m.StartTime) {
		return 0
	}
	return now.Sub(m.StartTime)
}

// Alerts returns the alerts raised by one analysis result. The result must
// already carry its id, frequentist and anomaly sections.
func Alerts(cfg config.Monitoring, m store.TestMetrics, r store.AnalysisResult, now time.Time) []store.Alert {
	var alerts []store.Alert
	freq := r.FrequentistResult
	pa := freq.PowerAnalysis

	newAlert := func(t store.AlertType, payload map[string]any) store.Alert {
		payload["treatmentId"] = freq.TreatmentID
		return store.Alert{
			ID:        uuid.NewString(),
			TestID:    r.TestID,
			AlertType: t,
			ResultID:  r.ID,
			Payload:   payload,
			Timestamp: now,
		}
	}

	if isEarlyWinner(cfg, freq) {
		alerts = append(alerts, newAlert(store.AlertEarlyWinner, map[string]any{
			"message": fmt.Sprintf("%s is significant (p=%.4f) after %d of %d required visitors per arm",
				freq.TreatmentID, freq.PValue, pa.ActualSampleSize, pa.RequiredSampleSize),
			"pValue":             freq.PValue,
			"difference":         freq.Difference,
			"actualSampleSize":   pa.ActualSampleSize,
			"requiredSampleSize": pa.RequiredSampleSize,
		}))
	}

	elapsed := Elapsed(m, now)
	if isPowerInsufficient(cfg, pa, elapsed) {
		alerts = append(alerts, newAlert(store.AlertPowerInsufficient, map[string]any{
			"message": fmt.Sprintf("power is %.2f against a target of %.2f with %s of %s elapsed",
				pa.CurrentPower, cfg.PowerLevel, elapsed.Round(time.Second), cfg.MaxTestDuration),
			"currentPower":       pa.CurrentPower,
			"powerLevel":         cfg.PowerLevel,
			"projectedSample":    projectedSample(pa, elapsed, cfg.MaxTestDuration),
			"requiredSampleSize": pa.RequiredSampleSize,
		}))
	}

	for _, a := range r.Anomalies.Anomalies {
		if a.Severity < cfg.Alerts.SeverityThreshold {
			continue
		}
		alerts = append(alerts, newAlert(store.AlertAnomaly, map[string]any{
			"message":  a.Detail,
			"severity": a.Severity.String(),
			"anomaly":  a,
		}))
	}

	return alerts
}

// isEarlyWinner: significant with a large effect while the sample is still
// well short of the planned size.
func isEarlyWinner(cfg config.Monitoring, freq store.FrequentistResult) bool {
	pa := freq.PowerAnalysis
	if !freq.IsSignificant || pa.ActualSampleSize < cfg.MinimumSampleSize {
		return false
	}
	if float64(pa.ActualSampleSize) >= cfg.Alerts.EarlyWinnerFraction*float64(pa.RequiredSampleSize) {
		return false
	}
	return math.Abs(freq.Difference) >= cfg.MinimumDetectableEffect
}

func projectedSample(pa store.PowerAnalysis, elapsed, maxDuration time.Duration) uint64 {
	return stats.ProjectedSampleSize(pa.ActualSampleSize, elapsed, maxDuration)
}

// isPowerInsufficient: power is materially below target and either most of
// the allowed duration is used up or the traffic rate cannot reach the
// required sample in time. Without a start time no growth is assumed.
func isPowerInsufficient(cfg config.Monitoring, pa store.PowerAnalysis, elapsed time.Duration) bool {
	if pa.CurrentPower >= cfg.PowerLevel-cfg.Alerts.PowerShortfall {
		return false
	}
	if elapsed > 0 && float64(elapsed) >= cfg.Alerts.DurationWarningFraction*float64(cfg.MaxTestDuration) {
		return true
	}
	return projectedSample(pa, elapsed, cfg.MaxTestDuration) < pa.RequiredSampleSize
}
