package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/statwatch/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tests with stored history",
	Long:  `List every test in the history store with its latest analysis.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	return withStore(ctx, cfg, func(s store.Store) error {
		return listTests(ctx, s, cmd.OutOrStdout())
	})
}

func listTests(ctx context.Context, s store.Store, out io.Writer) error {
	ids, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tests: %w", err)
	}

	if len(ids) == 0 {
		fmt.Fprintln(out, "No tests yet.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Histories are recorded when a store is configured. Try:")
		fmt.Fprintln(out, "  statwatch analyze snapshots.json --db ./statwatch.db")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tVARIATIONS\tVISITORS\tANALYSES\tLAST ANALYSIS\tP-VALUE\tACTION\tRISK")

	for _, id := range ids {
		h, err := s.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get history for test %s: %w", id, err)
		}

		variations, visitors := 0, uint64(0)
		if h.Metrics != nil {
			variations = len(h.Metrics.Variations)
			visitors, _ = h.Metrics.Totals()
		}

		last, pValue, action, risk := "-", "-", "-", "-"
		if n := len(h.Results); n > 0 {
			r := h.Results[n-1]
			last = r.Timestamp.Format("2006-01-02 15:04")
			pValue = fmt.Sprintf("%.4f", r.FrequentistResult.PValue)
			action = strings.ToUpper(string(r.RecommendedAction))
			risk = r.Anomalies.RiskLevel.String()
		}

		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			id,
			variations,
			formatNumber(visitors),
			len(h.Results),
			last,
			pValue,
			action,
			risk,
		)
	}

	return w.Flush()
}
