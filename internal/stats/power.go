package stats

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds applied to the baseline rate when sizing a test, so that
// baseline+effect stays a valid proportion.
const (
	minBaselineRate = 0.001
	maxRate         = 0.999
)

// RequiredSampleSize returns the per-arm sample size needed to detect an
// absolute lift of mde over baseline with a two-sided test at level alpha
// and the given power.
func RequiredSampleSize(baseline, mde, alpha, power float64) uint64 {
	if mde <= 0 || alpha <= 0 || alpha >= 1 || power <= 0 || power >= 1 {
		return 0
	}

	p1 := clamp(baseline, minBaselineRate, math.Max(minBaselineRate, maxRate-mde))
	p2 := math.Min(p1+mde, maxRate)
	effect := p2 - p1
	pbar := (p1 + p2) / 2

	zAlpha := distuv.UnitNormal.Quantile(1 - alpha/2)
	zBeta := distuv.UnitNormal.Quantile(power)

	num := zAlpha*math.Sqrt(2*pbar*(1-pbar)) + zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	if num <= 0 {
		return 1
	}
	n := math.Ceil(num * num / (effect * effect))
	if n < 1 {
		return 1
	}
	return uint64(n)
}

// powerAt is the probability that a two-sided test with critical value
// zCrit rejects, given the observed absolute difference and the standard
// errors under the null (pooled) and the alternative (unpooled).
func powerAt(absDiff, sePooled, seUnpooled, zCrit float64) float64 {
	if seUnpooled <= 0 {
		return 0
	}
	p := NormalCDF((absDiff - zCrit*sePooled) / seUnpooled)
	return clamp(finite(p, 0), 0, 1)
}

// projectionScale is how many times more traffic each arm will have seen
// by maxDuration if the current rate holds. Unknown elapsed time projects
// no growth.
func projectionScale(elapsed, maxDuration time.Duration) float64 {
	if elapsed <= 0 || maxDuration <= elapsed {
		return 1
	}
	return float64(maxDuration) / float64(elapsed)
}

// ProjectedSampleSize scales the current per-arm sample to maxDuration.
func ProjectedSampleSize(actual uint64, elapsed, maxDuration time.Duration) uint64 {
	return uint64(math.Floor(float64(actual) * projectionScale(elapsed, maxDuration)))
}
