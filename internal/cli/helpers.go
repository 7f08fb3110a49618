package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/logging"
	"github.com/headline-goat/statwatch/internal/store"
)

// loadConfig reads the config file and environment, then applies the global
// flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.Driver = store.DriverSQLite
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logging.New(cfg.Log)
}

// withStore opens the configured history store, executes the function, and
// handles cleanup.
func withStore(ctx context.Context, cfg *config.Config, fn func(store.Store) error) error {
	s, err := store.New(ctx, cfg.Storage.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	defer s.Close()

	return fn(s)
}

// readSnapshots loads metrics snapshots from a JSON file holding either one
// snapshot or an array of them.
func readSnapshots(path string) ([]store.TestMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	return parseSnapshots(data)
}

func parseSnapshots(data []byte) ([]store.TestMetrics, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("snapshot file is empty")
	}

	var snapshots []store.TestMetrics
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &snapshots); err != nil {
			return nil, fmt.Errorf("failed to parse snapshots: %w", err)
		}
	} else {
		var m store.TestMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		snapshots = []store.TestMetrics{m}
	}

	seen := make(map[string]bool, len(snapshots))
	for _, m := range snapshots {
		if m.TestID == "" {
			return nil, store.ErrEmptyTestID
		}
		if seen[m.TestID] {
			return nil, fmt.Errorf("duplicate test id %q", m.TestID)
		}
		seen[m.TestID] = true
	}
	return snapshots, nil
}

func formatNumber(n uint64) string {
	return humanize.Comma(int64(n))
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
