package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/statwatch/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <test-id>",
	Short: "Show the analysis history of a test",
	Long: `Show every stored analysis pass of a test, oldest first.

Example:
  statwatch history hero --limit 20`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "show only the newest n passes (0 shows all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
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
		return printHistory(cmd.OutOrStdout(), h, historyLimit)
	})
}

func getHistory(ctx context.Context, s store.Store, testID string) (*store.History, error) {
	h, err := s.Get(ctx, testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("test '%s' not found", testID)
		}
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return h, nil
}

func printHistory(out io.Writer, h *store.History, limit int) error {
	results := h.Results
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}

	fmt.Fprintf(out, "TEST: %s (%d passes)\n", h.TestID, len(h.Results))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTREATMENT\tP-VALUE\tDIFF\tPOWER\tP(BETTER)\tRISK\tACTION")
	for _, r := range results {
		f := r.FrequentistResult
		bayes := "-"
		if r.BayesianResult != nil {
			bayes = fmt.Sprintf("%.1f%%", r.BayesianResult.BayesianProbability*100)
		}
		p := fmt.Sprintf("%.4f", f.PValue)
		if f.IsSignificant {
			p += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%+.2f\t%.1f%%\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"),
			f.TreatmentID,
			p,
			f.Difference*100,
			f.PowerAnalysis.CurrentPower*100,
			bayes,
			r.Anomalies.RiskLevel,
			strings.ToUpper(string(r.RecommendedAction)),
		)
	}
	return w.Flush()
}
