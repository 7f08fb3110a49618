package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/monitor"
	"github.com/headline-goat/statwatch/internal/store"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <snapshots.json>",
	Short: "Run one analysis pass per test",
	Long: `Run one analysis pass for every test in a snapshot file and print the
results. The file holds one metrics snapshot or an array of them.

When a history store is configured each result is appended to the test's
history, so repeated runs build up the rolling traffic baseline.

Examples:
  statwatch analyze snapshots.json
  statwatch analyze snapshots.json --json
  statwatch analyze snapshots.json --db ./statwatch.db`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	snapshots, err := readSnapshots(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return withStore(ctx, cfg, func(s store.Store) error {
		return analyzeSnapshots(ctx, cfg.Monitoring, s, logger, snapshots, cmd.OutOrStdout(), analyzeJSON)
	})
}

// analyzeSnapshots registers every snapshot with a short-lived engine,
// triggers one pass each and writes the results to out.
func analyzeSnapshots(ctx context.Context, cfg config.Monitoring, s store.Store, logger *zap.Logger, snapshots []store.TestMetrics, out io.Writer, asJSON bool) error {
	engine, err := monitor.New(cfg, monitor.WithStore(s), monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	var mu sync.Mutex
	failures := make(map[string]error)
	engine.Subscribe(monitor.ListenerFunc(func(ev monitor.Event) {
		if ev.Type != monitor.EventAnalysisError {
			return
		}
		mu.Lock()
		failures[ev.TestID] = ev.Err
		mu.Unlock()
	}))

	var results []*store.AnalysisResult
	for _, m := range snapshots {
		if err := engine.StartMonitoring(m); err != nil {
			return fmt.Errorf("failed to register %s: %w", m.TestID, err)
		}
		r, ok := engine.TriggerAnalysis(ctx, m.TestID)
		if !ok {
			mu.Lock()
			ferr := failures[m.TestID]
			mu.Unlock()
			if ferr == nil {
				ferr = monitor.ErrEngineClosed
			}
			return fmt.Errorf("analysis of %s failed: %w", m.TestID, ferr)
		}
		results = append(results, r)
	}

	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printResult(out, r, engine.Alerts(r.TestID))
	}
	return nil
}
