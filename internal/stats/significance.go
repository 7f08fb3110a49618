package stats

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/headline-goat/statwatch/internal/store"
)

// pooledEpsilon keeps the pooled proportion away from exactly 0 or 1 so the
// standard error never collapses to zero.
const pooledEpsilon = 1e-9

// FrequentistParams are the inputs of a two-proportion test beyond the counts.
type FrequentistParams struct {
	SignificanceLevel       float64
	PowerLevel              float64
	MinimumDetectableEffect float64
	Elapsed                 time.Duration
	MaxTestDuration         time.Duration
}

// SignificanceTest performs a two-proportion z-test of treatment against
// control and attaches a confidence interval on the rate difference and a
// power analysis.
func SignificanceTest(control, treatment store.VariationMetrics, p FrequentistParams) store.FrequentistResult {
	result := store.FrequentistResult{
		ControlID:   control.VariationID,
		TreatmentID: treatment.VariationID,
		PValue:      1,
		PowerAnalysis: store.PowerAnalysis{
			RequiredSampleSize: RequiredSampleSize(control.Rate(), p.MinimumDetectableEffect, p.SignificanceLevel, p.PowerLevel),
			ActualSampleSize:   control.Visitors,
		},
	}

	// Need data from both variants
	if control.Visitors == 0 || treatment.Visitors == 0 {
		return result
	}

	nC := float64(control.Visitors)
	nT := float64(treatment.Visitors)
	rateC := control.Rate()
	rateT := treatment.Rate()

	// Pooled proportion under null hypothesis (rateC = rateT)
	pooled := (rateC*nC + rateT*nT) / (nC + nT)
	pooled = clamp(pooled, pooledEpsilon, 1-pooledEpsilon)

	se := math.Sqrt(pooled * (1 - pooled) * (1/nC + 1/nT))

	diff := rateT - rateC
	z := finite(diff/se, 0)
	pValue := clamp(finite(2*distuv.UnitNormal.Survival(math.Abs(z)), 1), 0, 1)

	zCrit := distuv.UnitNormal.Quantile(1 - p.SignificanceLevel/2)
	seUnpooled := math.Sqrt(rateC*(1-rateC)/nC + rateT*(1-rateT)/nT)
	if seUnpooled == 0 {
		seUnpooled = se
	}

	result.ZScore = z
	result.PValue = pValue
	result.IsSignificant = pValue < p.SignificanceLevel
	result.Difference = diff
	if rateC > 0 {
		result.RelativeLift = diff / rateC
	}
	result.ConfidenceInterval = store.Interval{
		Low:  diff - zCrit*seUnpooled,
		High: diff + zCrit*seUnpooled,
	}

	absDiff := math.Abs(diff)
	result.PowerAnalysis.CurrentPower = powerAt(absDiff, se, seUnpooled, zCrit)

	scale := math.Sqrt(projectionScale(p.Elapsed, p.MaxTestDuration))
	result.PowerAnalysis.ProbabilityOfSuccess = powerAt(absDiff, se/scale, seUnpooled/scale, zCrit)

	return result
}

// Comparison is the frequentist view of a whole test: every treatment
// against control, plus the comparison reported as the headline.
type Comparison struct {
	Headline store.FrequentistResult
	// Index into TestMetrics.Variations of the headline treatment.
	HeadlineIndex int
	All           []store.FrequentistResult
}

// CompareAll tests every treatment against the control (the first
// variation). With more than one treatment the significance level is
// Bonferroni-corrected and the headline is the comparison with the smallest
// p-value; ties go to the earlier treatment.
func CompareAll(m store.TestMetrics, p FrequentistParams) Comparison {
	if len(m.Variations) < 2 {
		return Comparison{}
	}

	treatments := len(m.Variations) - 1
	adjusted := p
	adjusted.SignificanceLevel = p.SignificanceLevel / float64(treatments)

	control := m.Variations[0]
	out := Comparison{
		HeadlineIndex: 1,
		All:           make([]store.FrequentistResult, 0, treatments),
	}
	for i := 1; i < len(m.Variations); i++ {
		r := SignificanceTest(control, m.Variations[i], adjusted)
		out.All = append(out.All, r)
		if i == 1 || r.PValue < out.Headline.PValue {
			out.Headline = r
			out.HeadlineIndex = i
		}
	}
	return out
}

// Summarize returns the per-variation rates with Wilson intervals at the
// given confidence.
func Summarize(m store.TestMetrics, confidence float64) []store.VariationSummary {
	out := make([]store.VariationSummary, len(m.Variations))
	for i, v := range m.Variations {
		lower, upper := WilsonInterval(v.Conversions, v.Visitors, confidence)
		out[i] = store.VariationSummary{
			VariationID: v.VariationID,
			Name:        v.Name,
			Visitors:    v.Visitors,
			Conversions: v.Conversions,
			Rate:        v.Rate(),
			CILower:     lower,
			CIUpper:     upper,
		}
	}
	return out
}
