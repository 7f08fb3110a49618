package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyTestID               = errors.New("test id is required")
	ErrTooFewVariations          = errors.New("at least two variations are required")
	ErrConversionsExceedVisitors = errors.New("conversions exceed visitors")
)

type Action string

const (
	ActionStop     Action = "stop"
	ActionContinue Action = "continue"
)

type AlertType string

const (
	AlertEarlyWinner       AlertType = "early_winner"
	AlertPowerInsufficient AlertType = "power_insufficient"
	AlertAnomaly           AlertType = "anomaly"
)

// Severity orders anomaly severities and risk levels. The zero value is low.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type VariationMetrics struct {
	VariationID    string   `json:"variationId"`
	Name           string   `json:"name"`
	Visitors       uint64   `json:"visitors"`
	Conversions    uint64   `json:"conversions"`
	ConversionRate float64  `json:"conversionRate"`
	Revenue        *float64 `json:"revenue,omitempty"`
	AvgOrderValue  *float64 `json:"avgOrderValue,omitempty"`
}

// Rate returns conversions/visitors, falling back to 0 for an empty arm.
// Conversions above visitors are capped so the rate never leaves [0, 1].
func (v VariationMetrics) Rate() float64 {
	if v.Visitors == 0 {
		return 0
	}
	if v.Conversions >= v.Visitors {
		return 1
	}
	return float64(v.Conversions) / float64(v.Visitors)
}

// TestMetrics is a point-in-time snapshot of one experiment. The first
// variation is the control.
type TestMetrics struct {
	TestID                string             `json:"testId"`
	Variations            []VariationMetrics `json:"variations"`
	StartTime             time.Time          `json:"startTime"`
	TotalVisitors         uint64             `json:"totalVisitors"`
	TotalConversions      uint64             `json:"totalConversions"`
	OverallConversionRate float64            `json:"overallConversionRate"`
	LastUpdated           time.Time          `json:"lastUpdated"`
}

// Clone returns a deep copy.
func (m TestMetrics) Clone() TestMetrics {
	out := m
	out.Variations = make([]VariationMetrics, len(m.Variations))
	for i, v := range m.Variations {
		if v.Revenue != nil {
			r := *v.Revenue
			v.Revenue = &r
		}
		if v.AvgOrderValue != nil {
			a := *v.AvgOrderValue
			v.AvgOrderValue = &a
		}
		out.Variations[i] = v
	}
	return out
}

// Validate reports whether the snapshot can be analyzed.
func (m TestMetrics) Validate() error {
	if m.TestID == "" {
		return ErrEmptyTestID
	}
	if len(m.Variations) < 2 {
		return fmt.Errorf("test %s has %d variations: %w", m.TestID, len(m.Variations), ErrTooFewVariations)
	}
	for _, v := range m.Variations {
		if v.Conversions > v.Visitors {
			return fmt.Errorf("variation %s has %d conversions for %d visitors: %w",
				v.VariationID, v.Conversions, v.Visitors, ErrConversionsExceedVisitors)
		}
	}
	return nil
}

// Totals returns the summed visitors and conversions across variations.
// TotalVisitors is used when the caller set it, otherwise the sum.
func (m TestMetrics) Totals() (visitors, conversions uint64) {
	for _, v := range m.Variations {
		visitors += v.Visitors
		conversions += v.Conversions
	}
	if m.TotalVisitors > 0 {
		visitors = m.TotalVisitors
	}
	if m.TotalConversions > 0 {
		conversions = m.TotalConversions
	}
	return visitors, conversions
}

type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type PowerAnalysis struct {
	CurrentPower         float64 `json:"currentPower"`
	RequiredSampleSize   uint64  `json:"requiredSampleSize"`
	ActualSampleSize     uint64  `json:"actualSampleSize"`
	ProbabilityOfSuccess float64 `json:"probabilityOfSuccess"`
}

type FrequentistResult struct {
	ControlID          string        `json:"controlId"`
	TreatmentID        string        `json:"treatmentId"`
	IsSignificant      bool          `json:"isSignificant"`
	PValue             float64       `json:"pValue"`
	ZScore             float64       `json:"zScore"`
	Difference         float64       `json:"difference"`
	RelativeLift       float64       `json:"relativeLift"`
	ConfidenceInterval Interval      `json:"confidenceInterval"`
	PowerAnalysis      PowerAnalysis `json:"powerAnalysis"`
}

type BayesianResult struct {
	Method              string   `json:"method"`
	Estimator           string   `json:"estimator"`
	BayesianProbability float64  `json:"bayesianProbability"`
	CredibleInterval    Interval `json:"credibleInterval"`
	ExpectedLoss        float64  `json:"expectedLoss"`
}

type AnomalyType string

const (
	AnomalyTrafficSpike        AnomalyType = "traffic_spike"
	AnomalyUnusualPattern      AnomalyType = "unusual_pattern"
	AnomalySampleRatioMismatch AnomalyType = "sample_ratio_mismatch"
)

type Anomaly struct {
	Type     AnomalyType `json:"type"`
	Severity Severity    `json:"severity"`
	Detail   string      `json:"detail"`
}

type AnomalyReport struct {
	Anomalies []Anomaly `json:"anomalies"`
	RiskLevel Severity  `json:"riskLevel"`
	Timestamp time.Time `json:"timestamp"`
}

// VariationSummary is the per-arm view attached to every result.
type VariationSummary struct {
	VariationID string  `json:"variationId"`
	Name        string  `json:"name"`
	Visitors    uint64  `json:"visitors"`
	Conversions uint64  `json:"conversions"`
	Rate        float64 `json:"rate"`
	CILower     float64 `json:"ciLower"`
	CIUpper     float64 `json:"ciUpper"`
}

type AnalysisResult struct {
	ID                string              `json:"id"`
	TestID            string              `json:"testId"`
	Timestamp         time.Time           `json:"timestamp"`
	FrequentistResult FrequentistResult   `json:"frequentistResult"`
	Comparisons       []FrequentistResult `json:"comparisons"`
	BayesianResult    *BayesianResult     `json:"bayesianResult"`
	Anomalies         AnomalyReport       `json:"anomalies"`
	Variations        []VariationSummary  `json:"variations"`
	RecommendedAction Action              `json:"recommendedAction"`
	// TotalVisitors is the snapshot's visitor total, used to rebuild the
	// traffic baseline when a history is resumed.
	TotalVisitors uint64 `json:"totalVisitors"`
}

type Alert struct {
	ID        string         `json:"id"`
	TestID    string         `json:"testId"`
	AlertType AlertType      `json:"alertType"`
	ResultID  string         `json:"resultId"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// History is everything retained for one test id.
type History struct {
	TestID    string           `json:"testId"`
	Metrics   *TestMetrics     `json:"metrics,omitempty"`
	Results   []AnalysisResult `json:"results"`
	Anomalies []AnomalyReport  `json:"anomalies"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
