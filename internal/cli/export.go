package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/statwatch/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <test-id>",
	Short: "Export the analysis history of a test",
	Long: `Export the stored analysis history of a test in CSV or JSON format.

CSV has one row per pass with the headline comparison. JSON is the full
history including every comparison and anomaly report.

Examples:
  statwatch export hero --format csv > hero-history.csv
  statwatch export hero --format json > hero-history.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	return withStore(ctx, cfg, func(s store.Store) error {
		h, err := getHistory(ctx, s, args[0])
		if err != nil {
			return err
		}
		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), h)
		}
		return exportJSON(cmd.OutOrStdout(), h)
	})
}

var csvHeader = []string{
	"timestamp", "result_id", "control", "treatment", "p_value", "z_score",
	"difference", "ci_low", "ci_high", "power", "significant",
	"bayesian_probability", "risk", "action",
}

func exportCSV(out io.Writer, h *store.History) error {
	w := csv.NewWriter(out)

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range h.Results {
		f := r.FrequentistResult
		bayes := ""
		if r.BayesianResult != nil {
			bayes = formatFloat(r.BayesianResult.BayesianProbability)
		}
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.ID,
			f.ControlID,
			f.TreatmentID,
			formatFloat(f.PValue),
			formatFloat(f.ZScore),
			formatFloat(f.Difference),
			formatFloat(f.ConfidenceInterval.Low),
			formatFloat(f.ConfidenceInterval.High),
			formatFloat(f.PowerAnalysis.CurrentPower),
			strconv.FormatBool(f.IsSignificant),
			bayes,
			r.Anomalies.RiskLevel.String(),
			string(r.RecommendedAction),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func exportJSON(out io.Writer, h *store.History) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(h)
}
