package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/headline-goat/statwatch/internal/stats"
	"github.com/headline-goat/statwatch/internal/store"
)

func drawArm(rt *rapid.T, label string, minVisitors uint64) store.VariationMetrics {
	visitors := rapid.Uint64Range(minVisitors, 100000).Draw(rt, label+"_visitors")
	conversions := rapid.Uint64Range(0, visitors).Draw(rt, label+"_conversions")
	return arm(label, visitors, conversions)
}

func TestProperty_IntervalOrderedAndPValueInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawArm(rt, "control", 0)
		tr := drawArm(rt, "treatment", 0)
		p := defaultParams
		p.SignificanceLevel = rapid.Float64Range(0.001, 0.2).Draw(rt, "alpha")

		r := stats.SignificanceTest(c, tr, p)

		assert.LessOrEqual(rt, r.ConfidenceInterval.Low, r.ConfidenceInterval.High)
		assert.GreaterOrEqual(rt, r.PValue, 0.0)
		assert.LessOrEqual(rt, r.PValue, 1.0)
		assert.GreaterOrEqual(rt, r.PowerAnalysis.CurrentPower, 0.0)
		assert.LessOrEqual(rt, r.PowerAnalysis.CurrentPower, 1.0)
	})
}

func TestProperty_PValueFallsAsDifferenceGrows(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Uint64Range(50, 5000).Draw(rt, "visitors")
		c := rapid.Uint64Range(0, n-1).Draw(rt, "control_conversions")
		t1 := rapid.Uint64Range(c, n-1).Draw(rt, "treatment_conversions")
		t2 := rapid.Uint64Range(t1+1, n).Draw(rt, "more_conversions")

		control := arm("control", n, c)
		r1 := stats.SignificanceTest(control, arm("t", n, t1), defaultParams)
		r2 := stats.SignificanceTest(control, arm("t", n, t2), defaultParams)

		assert.LessOrEqual(rt, r2.PValue, r1.PValue+1e-12)
		assert.Greater(rt, r2.ZScore, r1.ZScore)
	})
}

func TestProperty_RequiredSampleSizeFallsAsEffectGrows(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		baseline := rapid.Float64Range(0.01, 0.5).Draw(rt, "baseline")
		mde := rapid.Float64Range(0.01, 0.2).Draw(rt, "mde")

		small := stats.RequiredSampleSize(baseline, mde, 0.05, 0.8)
		large := stats.RequiredSampleSize(baseline, 2*mde, 0.05, 0.8)

		assert.Less(rt, large, small)
	})
}

func TestProperty_BayesianBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawArm(rt, "control", 0)
		tr := drawArm(rt, "treatment", 0)
		if rapid.Bool().Draw(rt, "no_conversions") {
			c.Conversions, tr.Conversions = 0, 0
		}
		estimator := rapid.SampledFrom([]string{
			stats.EstimatorMonteCarlo,
			stats.EstimatorNormalApproximation,
		}).Draw(rt, "estimator")
		seed := rapid.Uint64().Draw(rt, "seed")

		a := stats.BayesianAnalyzer{Estimator: estimator, Draws: 200, NewSource: seeded(seed)}
		r := a.Compare(c, tr)

		assert.GreaterOrEqual(rt, r.BayesianProbability, 0.0)
		assert.LessOrEqual(rt, r.BayesianProbability, 1.0)
		assert.Less(rt, r.CredibleInterval.Low, r.CredibleInterval.High)
		assert.GreaterOrEqual(rt, r.ExpectedLoss, 0.0)
	})
}
