package monitor

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/statwatch/internal/anomaly"
	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/decision"
	"github.com/headline-goat/statwatch/internal/stats"
	"github.com/headline-goat/statwatch/internal/store"
)

// pipeline runs one analysis pass. It reads nothing but its arguments so
// concurrent passes need no locking.
type pipeline struct {
	detector  *anomaly.Detector
	newSource func() rand.Source
}

func (p pipeline) analyze(cfg config.Monitoring, m store.TestMetrics, b anomaly.Baseline, now time.Time) (result *store.AnalysisResult, alerts []store.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, alerts = nil, nil
			err = fmt.Errorf("analysis of %s panicked: %v", m.TestID, r)
		}
	}()

	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid metrics: %w", err)
	}

	comparison := stats.CompareAll(m, stats.FrequentistParams{
		SignificanceLevel:       cfg.SignificanceLevel,
		PowerLevel:              cfg.PowerLevel,
		MinimumDetectableEffect: cfg.MinimumDetectableEffect,
		Elapsed:                 decision.Elapsed(m, now),
		MaxTestDuration:         cfg.MaxTestDuration,
	})

	total, _ := m.Totals()
	r := &store.AnalysisResult{
		ID:                uuid.NewString(),
		TestID:            m.TestID,
		Timestamp:         now,
		FrequentistResult: comparison.Headline,
		Comparisons:       comparison.All,
		Anomalies:         p.detector.Detect(m, b, cfg.Anomaly, now),
		Variations:        stats.Summarize(m, 1-cfg.SignificanceLevel),
		TotalVisitors:     total,
	}

	if cfg.BayesianEnabled {
		analyzer := stats.BayesianAnalyzer{
			Estimator:  cfg.Bayesian.Estimator,
			Draws:      cfg.Bayesian.Draws,
			PriorAlpha: cfg.Bayesian.PriorAlpha,
			PriorBeta:  cfg.Bayesian.PriorBeta,
			Level:      1 - cfg.SignificanceLevel,
			NewSource:  p.newSource,
		}
		bayes := analyzer.Compare(m.Variations[0], m.Variations[comparison.HeadlineIndex])
		r.BayesianResult = &bayes
	}

	r.RecommendedAction = decision.RecommendedAction(cfg, r.FrequentistResult)
	return r, decision.Alerts(cfg, m, *r, now), nil
}
