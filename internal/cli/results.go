package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/headline-goat/statwatch/internal/store"
)

// printResult renders one analysis pass the way the analyze command shows
// it: a variation table followed by the verdict and any alerts.
func printResult(w io.Writer, r *store.AnalysisResult, alerts []store.Alert) {
	f := r.FrequentistResult

	fmt.Fprintf(w, "TEST: %s\n", r.TestID)
	fmt.Fprintf(w, "ANALYZED: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "VARIATION         VISITORS  CONVERSIONS  RATE     CI")
	fmt.Fprintln(w, strings.Repeat("─", 64))
	for _, v := range r.Variations {
		indicator := ""
		if v.VariationID == f.TreatmentID {
			indicator = " ← HEADLINE"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Visitors == 0 {
			ciStr = "N/A"
		}

		name := v.Name
		if name == "" {
			name = v.VariationID
		}
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(w, "%-16s  %-8s  %-11s  %-7s  %s%s\n",
			name,
			formatNumber(v.Visitors),
			formatNumber(v.Conversions),
			formatPercent(v.Rate),
			ciStr,
			indicator,
		)
	}
	fmt.Fprintln(w)

	verdict := "not significant"
	if f.IsSignificant {
		verdict = "significant"
	}
	fmt.Fprintf(w, "%s vs %s: p=%.4f z=%.2f (%s)\n", f.TreatmentID, f.ControlID, f.PValue, f.ZScore, verdict)
	fmt.Fprintf(w, "Difference: %+.2f points, lift %+.1f%%, CI [%+.2f, %+.2f]\n",
		f.Difference*100, f.RelativeLift*100, f.ConfidenceInterval.Low*100, f.ConfidenceInterval.High*100)
	fmt.Fprintf(w, "Power: %.1f%% (need %s per arm, have %s)\n",
		f.PowerAnalysis.CurrentPower*100,
		formatNumber(f.PowerAnalysis.RequiredSampleSize),
		formatNumber(f.PowerAnalysis.ActualSampleSize))

	if b := r.BayesianResult; b != nil {
		fmt.Fprintf(w, "Bayesian: %.1f%% probability %s beats %s, expected loss %.4f\n",
			b.BayesianProbability*100, f.TreatmentID, f.ControlID, b.ExpectedLoss)
	}

	fmt.Fprintf(w, "Anomaly risk: %s\n", r.Anomalies.RiskLevel)
	for _, a := range r.Anomalies.Anomalies {
		fmt.Fprintf(w, "  [%s] %s: %s\n", a.Severity, a.Type, a.Detail)
	}

	fmt.Fprintf(w, "Recommendation: %s\n", strings.ToUpper(string(r.RecommendedAction)))
	for _, a := range alerts {
		if a.ResultID != r.ID {
			continue
		}
		fmt.Fprintf(w, "ALERT %s: %v\n", a.AlertType, a.Payload["message"])
	}
}
