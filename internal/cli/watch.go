package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/metrics"
	"github.com/headline-goat/statwatch/internal/monitor"
	"github.com/headline-goat/statwatch/internal/server"
	"github.com/headline-goat/statwatch/internal/store"
)

var watchPort int

var watchCmd = &cobra.Command{
	Use:   "watch <snapshots.json>",
	Short: "Continuously monitor every test in a snapshot file",
	Long: `Monitor every test in a snapshot file until interrupted.

The snapshot file and the config file are watched: rewriting the snapshot
file updates metrics (new tests start, removed tests stop) and editing the
config file applies the new monitoring settings to the running engine.

Health and Prometheus metrics are served on /health and /metrics.

Example:
  statwatch watch snapshots.json --port 9090`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchPort, "port", "p", 0, "port for /health and /metrics (default from config, 0 there disables)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	snapshotPath := args[0]
	snapshots, err := readSnapshots(snapshotPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchPort != 0 {
		cfg.Server.Port = watchPort
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStore(ctx, cfg, func(s store.Store) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		engine, err := monitor.New(cfg.Monitoring,
			monitor.WithStore(s),
			monitor.WithLogger(logger),
			monitor.WithMetrics(metrics.NewCollector(metrics.DefaultNamespace, reg, logger)),
		)
		if err != nil {
			return err
		}
		defer engine.Shutdown()

		engine.Subscribe(eventLogger(logger))
		if err := reconcile(engine, snapshots); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Server.Port > 0 {
			srv := server.New(engine, cfg.Server.Port, reg, logger)
			g.Go(func() error { return srv.Start(gctx) })
		}
		g.Go(func() error {
			return watchFiles(gctx, engine, logger, snapshotPath, configPath)
		})

		logger.Info("watching tests",
			zap.Strings("tests", engine.ActiveTests()),
			zap.Duration("interval", cfg.Monitoring.MonitoringInterval))
		return g.Wait()
	})
}

// eventLogger reports alerts and failures from the engine in the log.
func eventLogger(logger *zap.Logger) monitor.Listener {
	return monitor.ListenerFunc(func(ev monitor.Event) {
		switch ev.Type {
		case monitor.EventAlert:
			logger.Warn("alert",
				zap.String("test_id", ev.TestID),
				zap.String("alert_type", string(ev.Alert.AlertType)),
				zap.Any("payload", ev.Alert.Payload))
		case monitor.EventAnalysisComplete:
			logger.Info("analysis",
				zap.String("test_id", ev.TestID),
				zap.Float64("p_value", ev.Result.FrequentistResult.PValue),
				zap.String("action", string(ev.Result.RecommendedAction)))
		}
	})
}

// reconcile makes the engine's active tests match snapshots: known tests
// get new metrics, new tests start and tests missing from the file stop.
func reconcile(engine *monitor.Engine, snapshots []store.TestMetrics) error {
	wanted := make(map[string]bool, len(snapshots))
	active := make(map[string]bool)
	for _, id := range engine.ActiveTests() {
		active[id] = true
	}

	for _, m := range snapshots {
		wanted[m.TestID] = true
		if active[m.TestID] {
			engine.UpdateTestMetrics(m)
			continue
		}
		if err := engine.StartMonitoring(m); err != nil {
			return fmt.Errorf("failed to start %s: %w", m.TestID, err)
		}
	}
	for id := range active {
		if !wanted[id] {
			engine.StopMonitoring(id)
		}
	}
	return nil
}

// applyConfigFile loads the config file and applies any monitoring changes
// to the engine. It reports whether anything changed.
func applyConfigFile(engine *monitor.Engine, path string) (bool, error) {
	cfg, err := config.NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return false, err
	}
	patch := engine.Configuration().Diff(cfg.Monitoring)
	if patch.IsEmpty() {
		return false, nil
	}
	return true, engine.UpdateConfiguration(patch)
}

// watchFiles reloads the snapshot and config files whenever they are
// written. Directories are watched so editors that replace files by rename
// are still seen. Bad content is logged and the previous state kept.
func watchFiles(ctx context.Context, engine *monitor.Engine, logger *zap.Logger, snapshotPath, cfgPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	snapshotPath = filepath.Clean(snapshotPath)
	cfgPath = filepath.Clean(cfgPath)
	dirs := map[string]bool{filepath.Dir(snapshotPath): true}
	if _, err := os.Stat(cfgPath); err == nil {
		dirs[filepath.Dir(cfgPath)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			switch filepath.Clean(event.Name) {
			case snapshotPath:
				snapshots, err := readSnapshots(snapshotPath)
				if err == nil {
					err = reconcile(engine, snapshots)
				}
				if err != nil {
					logger.Warn("snapshot reload failed", zap.String("path", snapshotPath), zap.Error(err))
					continue
				}
				logger.Info("snapshots reloaded", zap.Int("tests", len(snapshots)))
			case cfgPath:
				changed, err := applyConfigFile(engine, cfgPath)
				if err != nil {
					logger.Warn("config reload failed", zap.String("path", cfgPath), zap.Error(err))
					continue
				}
				if changed {
					logger.Info("config reloaded", zap.String("path", cfgPath))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}
