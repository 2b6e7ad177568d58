// Package cli wires the weft command surface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/weftdata/weft/pkg/config"
	"github.com/weftdata/weft/pkg/model"
	"github.com/weftdata/weft/pkg/runner"
)

// ErrRunFailed marks a run that completed with failed or skipped nodes, so
// main can exit non-zero without double-logging.
var ErrRunFailed = errors.New("run finished with failures")

// NewRootCommand builds the weft command tree.
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "Run a directory of transformation scripts against PostgreSQL",
		Long: `Weft discovers the scripts in a project directory, infers which depend
on which, executes them in dependency order, and loads each script's
rows into the destination database, creating or updating tables as
needed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Execute the scripts in a directory and load their output",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().String("config", "", "Path to weft.yaml (default: ./weft.yaml)")
	runCmd.Flags().StringSlice("ignore", nil, "Glob patterns for scripts to skip")
	runCmd.Flags().Bool("dry-run", false, "Compute and print the plan without executing")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	runCmd.Flags().IntP("jobs", "j", 0, "Max concurrent scripts within a batch (0 = unlimited)")
	runCmd.Flags().StringP("output", "o", "text", "Plan output format for --dry-run: text|yaml")
	rootCmd.AddCommand(runCmd)

	planCmd := &cobra.Command{
		Use:   "plan [dir]",
		Short: "Print the batched execution plan without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPlan,
	}
	planCmd.Flags().String("config", "", "Path to weft.yaml (default: ./weft.yaml)")
	planCmd.Flags().StringSlice("ignore", nil, "Glob patterns for scripts to skip")
	planCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	planCmd.Flags().StringP("output", "o", "text", "Plan output format: text|yaml")
	rootCmd.AddCommand(planCmd)

	return rootCmd
}

// loadConfig merges the config file, environment, and flags. Flags win.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		cfg.Root = args[0]
	}
	if ignore, _ := cmd.Flags().GetStringSlice("ignore"); len(ignore) > 0 {
		cfg.Ignore = append(cfg.Ignore, ignore...)
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Jobs, _ = cmd.Flags().GetInt("jobs")
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, logger)

	if cfg.DryRun {
		plan, _, err := r.Plan(ctx)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return printPlan(cmd, plan.Batches, format)
	}

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}
	printReport(cmd, report)
	if report.Failed() {
		return ErrRunFailed
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	plan, _, err := runner.New(cfg, logger).Plan(cmd.Context())
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("output")
	return printPlan(cmd, plan.Batches, format)
}

func printPlan(cmd *cobra.Command, batches [][]string, format string) error {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(map[string][][]string{"batches": batches})
		if err != nil {
			return err
		}
		cmd.Print(string(out))
	case "text":
		for i, batch := range batches {
			cmd.Printf("batch %d:\n", i+1)
			for _, id := range batch {
				cmd.Printf("  %s\n", id)
			}
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}

func printReport(cmd *cobra.Command, report *model.RunReport) {
	succeeded, failed, skipped := report.Counts()
	cmd.Printf("run %s: %d succeeded, %d failed, %d skipped in %s\n",
		report.RunID, succeeded, failed, skipped, report.Duration.Round(time.Millisecond))
	for _, res := range report.Results {
		switch res.Status {
		case model.StatusSucceeded:
			cmd.Printf("  ok   %-40s %6d rows  %s\n", res.Identity, res.Rows, res.Duration.Round(time.Millisecond))
		case model.StatusFailed:
			cmd.Printf("  fail %-40s %v\n", res.Identity, res.Err)
		case model.StatusSkipped:
			cmd.Printf("  skip %-40s %v\n", res.Identity, res.Err)
		}
	}
}
