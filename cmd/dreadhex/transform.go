package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hollowvale/dreadhex/internal/audit"
	"github.com/hollowvale/dreadhex/internal/observe"
	"github.com/hollowvale/dreadhex/internal/pipeline"
)

var (
	transformInput  string
	transformOut    string
	transformRepair bool
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Run the full transformation pipeline end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		if transformInput != "" {
			cfg.Paths.HBF = transformInput
		}
		if transformOut != "" {
			cfg.Paths.Out = transformOut
		}
		if cfg.Paths.HBF == "" {
			exitCode = pipeline.ExitInvalidInput
			return errors.New("no input worldbook: pass --input, set paths.hbf, or export HBF_PATH")
		}

		provider, err := buildOracle()
		if err != nil {
			exitCode = pipeline.ExitInvalidInput
			return err
		}
		if provider == nil {
			slog.Warn("no oracle configured; AI stages will run from cache only")
		}

		obs, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return err
		}
		metrics, err := observe.NewMetrics(obs.MeterProvider())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := pipeline.New(cfg,
			pipeline.WithProvider(provider),
			pipeline.WithReporter(newReporter()),
			pipeline.WithMetrics(metrics),
			pipeline.WithLogger(slog.Default()),
			pipeline.WithRepair(transformRepair),
		)

		res, err := runner.Run(ctx)
		exitCode = res.ExitCode

		snap, snapErr := obs.Snapshot(context.Background())
		if snapErr != nil {
			slog.Warn("metrics snapshot failed", "err", snapErr)
		}
		printRunSummary(res, snap)

		if shutdownErr := obs.Shutdown(context.Background()); shutdownErr != nil {
			slog.Warn("metrics shutdown failed", "err", shutdownErr)
		}
		return err
	},
}

func init() {
	transformCmd.Flags().StringVar(&transformInput, "input", "", "path to the HBF worldbook backpack")
	transformCmd.Flags().StringVar(&transformOut, "out", "", "output directory root")
	transformCmd.Flags().BoolVar(&transformRepair, "repair", false, "rebuild the asset manifest when it fails to parse")
}

// newReporter builds the audit report writer, or nil when auditing is off.
func newReporter() *audit.Reporter {
	dir := cfg.Audit.ReportsDir
	if dir == "" {
		dir = os.Getenv("AUDIT_REPORTS_DIR")
	}
	if dir == "" {
		return nil
	}
	return audit.NewReporter(dir)
}
