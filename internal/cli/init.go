package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/store"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through the main monitoring settings and write a config file.

The file is written to the --config path. Every setting not asked about
keeps its default and can be edited in the file afterwards.

Example:
  statwatch init
  statwatch init --config ./experiments/statwatch.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// initAnswers are the wizard's choices, applied on top of the defaults.
type initAnswers struct {
	SignificanceLevel float64
	PowerLevel        float64
	MDE               float64
	Interval          time.Duration
	Bayesian          bool
	Driver            string
	Target            string
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	answers, err := promptAnswers()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return nil
		}
		return err
	}

	cfg, err := buildConfig(answers)
	if err != nil {
		return err
	}
	if err := cfg.WriteFile(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printNextSteps(cmd.OutOrStdout(), configPath, cfg)
	return nil
}

func promptAnswers() (initAnswers, error) {
	var a initAnswers

	idx, _, err := (&promptui.Select{
		Label: "Significance level",
		Items: []string{"0.05 (95% confidence)", "0.01 (99% confidence)", "0.10 (90% confidence)"},
	}).Run()
	if err != nil {
		return a, err
	}
	a.SignificanceLevel = significanceFromIndex(idx)

	idx, _, err = (&promptui.Select{
		Label: "Target power",
		Items: []string{"0.80", "0.90"},
	}).Run()
	if err != nil {
		return a, err
	}
	a.PowerLevel = powerFromIndex(idx)

	mde, err := (&promptui.Prompt{
		Label:    "Minimum detectable effect (absolute, e.g. 0.05 for 5 points)",
		Default:  "0.05",
		Validate: validateUnit,
	}).Run()
	if err != nil {
		return a, err
	}
	a.MDE, _ = strconv.ParseFloat(mde, 64)

	interval, err := (&promptui.Prompt{
		Label:    "Monitoring interval",
		Default:  "1m",
		Validate: validateDuration,
	}).Run()
	if err != nil {
		return a, err
	}
	a.Interval, _ = time.ParseDuration(interval)

	idx, _, err = (&promptui.Select{
		Label: "Bayesian analysis",
		Items: []string{"enabled", "disabled"},
	}).Run()
	if err != nil {
		return a, err
	}
	a.Bayesian = idx == 0

	idx, _, err = (&promptui.Select{
		Label: "History storage",
		Items: []string{"SQLite file", "Redis", "None (in memory)"},
	}).Run()
	if err != nil {
		return a, err
	}
	a.Driver = driverFromIndex(idx)

	switch a.Driver {
	case store.DriverSQLite:
		a.Target, err = (&promptui.Prompt{Label: "Database path", Default: "./statwatch.db"}).Run()
	case store.DriverRedis:
		a.Target, err = (&promptui.Prompt{Label: "Redis address", Default: "localhost:6379"}).Run()
	}
	return a, err
}

func significanceFromIndex(idx int) float64 {
	switch idx {
	case 1:
		return 0.01
	case 2:
		return 0.10
	default:
		return 0.05
	}
}

func powerFromIndex(idx int) float64 {
	if idx == 1 {
		return 0.9
	}
	return 0.8
}

func driverFromIndex(idx int) string {
	switch idx {
	case 0:
		return store.DriverSQLite
	case 1:
		return store.DriverRedis
	default:
		return store.DriverMemory
	}
}

func validateUnit(input string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return errors.New("enter a number")
	}
	if v <= 0 || v >= 1 {
		return errors.New("must be between 0 and 1")
	}
	return nil
}

func validateDuration(input string) error {
	d, err := time.ParseDuration(strings.TrimSpace(input))
	if err != nil {
		return errors.New("enter a duration such as 30s or 5m")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// buildConfig applies the answers to the defaults and validates the result.
func buildConfig(a initAnswers) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Monitoring.SignificanceLevel = a.SignificanceLevel
	cfg.Monitoring.PowerLevel = a.PowerLevel
	cfg.Monitoring.MinimumDetectableEffect = a.MDE
	cfg.Monitoring.MonitoringInterval = a.Interval
	cfg.Monitoring.BayesianEnabled = a.Bayesian

	cfg.Storage.Driver = a.Driver
	switch a.Driver {
	case store.DriverSQLite:
		cfg.Storage.Path = a.Target
	case store.DriverRedis:
		cfg.Storage.Redis.Addr = a.Target
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printNextSteps(out io.Writer, path string, cfg *config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config written to %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Significance level: %.2f  Power: %.2f  MDE: %.3f\n",
		cfg.Monitoring.SignificanceLevel, cfg.Monitoring.PowerLevel, cfg.Monitoring.MinimumDetectableEffect)
	fmt.Fprintf(out, "Interval: %s  Storage: %s\n", cfg.Monitoring.MonitoringInterval, cfg.Storage.Driver)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Write a snapshot file")
	fmt.Fprintln(out)
	fmt.Fprintln(out, `   [{"testId": "hero", "startTime": "2026-01-01T00:00:00Z", "variations": [
     {"variationId": "control", "visitors": 1000, "conversions": 100},
     {"variationId": "treatment", "visitors": 1000, "conversions": 150}]}]`)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "2. Analyze it once, or keep watching it")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   statwatch analyze snapshots.json --config %s\n", path)
	fmt.Fprintf(out, "   statwatch watch snapshots.json --config %s\n", path)
	fmt.Fprintln(out)

	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  list                 List tests with stored history")
	fmt.Fprintln(out, "  history <test-id>    Show analysis passes")
	fmt.Fprintln(out, "  export <test-id>     Export history as CSV or JSON")
	fmt.Fprintln(out, "  config               Print the effective configuration")
}
