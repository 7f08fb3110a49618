package stats

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/headline-goat/statwatch/internal/store"
)

const (
	EstimatorMonteCarlo          = "monte_carlo"
	EstimatorNormalApproximation = "normal_approximation"

	bayesianMethod = "bayesian"
	defaultDraws   = 10000
)

// BayesianAnalyzer compares two variations under a Beta-Binomial model.
// The zero value uses a uniform Beta(1,1) prior, 10000 Monte Carlo draws,
// a 95% credible level and a randomly seeded source.
type BayesianAnalyzer struct {
	Estimator  string
	Draws      int
	PriorAlpha float64
	PriorBeta  float64
	// Credible level of the reported interval.
	Level float64
	// NewSource returns the random source for one comparison. It is called
	// once per Compare so the analyzer is safe for concurrent use as long as
	// each returned source is fresh.
	NewSource func() rand.Source
}

// posterior returns the Beta posterior of one variation's conversion rate.
func (a BayesianAnalyzer) posterior(v store.VariationMetrics) (alpha, beta float64) {
	priorA, priorB := a.PriorAlpha, a.PriorBeta
	if priorA <= 0 {
		priorA = 1
	}
	if priorB <= 0 {
		priorB = 1
	}
	conv := v.Conversions
	if conv > v.Visitors {
		conv = v.Visitors
	}
	return priorA + float64(conv), priorB + float64(v.Visitors-conv)
}

func (a BayesianAnalyzer) level() float64 {
	if a.Level <= 0 || a.Level >= 1 {
		return 0.95
	}
	return a.Level
}

func (a BayesianAnalyzer) source() rand.Source {
	if a.NewSource != nil {
		return a.NewSource()
	}
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

// Compare returns P(treatment rate > control rate) and a credible interval
// on the rate difference (treatment - control).
func (a BayesianAnalyzer) Compare(control, treatment store.VariationMetrics) store.BayesianResult {
	var r store.BayesianResult
	if a.Estimator == EstimatorNormalApproximation {
		r = a.normalApproximation(control, treatment)
	} else {
		r = a.monteCarlo(control, treatment)
	}

	r.Method = bayesianMethod
	r.BayesianProbability = clamp(finite(r.BayesianProbability, 0.5), 0, 1)
	r.CredibleInterval.Low = finite(r.CredibleInterval.Low, -1)
	r.CredibleInterval.High = finite(r.CredibleInterval.High, 1)
	if !(r.CredibleInterval.Low < r.CredibleInterval.High) {
		r.CredibleInterval.High = math.Nextafter(r.CredibleInterval.Low, math.Inf(1))
	}
	r.ExpectedLoss = math.Max(0, finite(r.ExpectedLoss, 0))
	return r
}

func (a BayesianAnalyzer) monteCarlo(control, treatment store.VariationMetrics) store.BayesianResult {
	draws := a.Draws
	if draws <= 0 {
		draws = defaultDraws
	}

	src := a.source()
	alphaC, betaC := a.posterior(control)
	alphaT, betaT := a.posterior(treatment)
	postC := distuv.Beta{Alpha: alphaC, Beta: betaC, Src: src}
	postT := distuv.Beta{Alpha: alphaT, Beta: betaT, Src: src}

	diffs := make([]float64, draws)
	wins := 0
	loss := 0.0
	for i := range diffs {
		c := postC.Rand()
		t := postT.Rand()
		d := t - c
		diffs[i] = d
		if d > 0 {
			wins++
		} else {
			loss -= d
		}
	}
	sort.Float64s(diffs)

	tail := (1 - a.level()) / 2
	return store.BayesianResult{
		Estimator:           EstimatorMonteCarlo,
		BayesianProbability: float64(wins) / float64(draws),
		CredibleInterval: store.Interval{
			Low:  stat.Quantile(tail, stat.Empirical, diffs, nil),
			High: stat.Quantile(1-tail, stat.Empirical, diffs, nil),
		},
		ExpectedLoss: loss / float64(draws),
	}
}

func betaMoments(alpha, beta float64) (mean, variance float64) {
	sum := alpha + beta
	return alpha / sum, alpha * beta / (sum * sum * (sum + 1))
}

func (a BayesianAnalyzer) normalApproximation(control, treatment store.VariationMetrics) store.BayesianResult {
	meanC, varC := betaMoments(a.posterior(control))
	meanT, varT := betaMoments(a.posterior(treatment))

	mu := meanT - meanC
	sd := math.Sqrt(varC + varT)
	z := ZScore(a.level())

	// E[max(-D, 0)] for D ~ N(mu, sd^2)
	loss := sd*distuv.UnitNormal.Prob(mu/sd) - mu*distuv.UnitNormal.CDF(-mu/sd)

	return store.BayesianResult{
		Estimator:           EstimatorNormalApproximation,
		BayesianProbability: distuv.UnitNormal.CDF(mu / sd),
		CredibleInterval: store.Interval{
			Low:  mu - z*sd,
			High: mu + z*sd,
		},
		ExpectedLoss: loss,
	}
}
