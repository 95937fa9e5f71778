package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hollowvale/dreadhex/internal/analysis"
	"github.com/hollowvale/dreadhex/internal/extract"
	"github.com/hollowvale/dreadhex/internal/hbf"
	"github.com/hollowvale/dreadhex/internal/pipeline"
)

var (
	analyzeCluster string
	analyzeForce   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "(Re)analyze a single cluster against the oracle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeCluster == "" {
			exitCode = pipeline.ExitInvalidInput
			return errors.New("--cluster is required (form: category/name)")
		}
		if cfg.Paths.HBF == "" {
			exitCode = pipeline.ExitInvalidInput
			return errors.New("no input worldbook: set paths.hbf or export HBF_PATH")
		}

		snap, err := hbf.Load(cfg.Paths.HBF)
		if err != nil {
			exitCode = pipeline.ExitInvalidInput
			return err
		}
		extracted := extract.Partition(snap)

		var target *extract.Cluster
		for _, c := range extracted.Sorted() {
			if c.Key.String() == analyzeCluster {
				target = c
				break
			}
		}
		if target == nil {
			exitCode = pipeline.ExitInvalidInput
			return fmt.Errorf("no cluster %q in this worldbook", analyzeCluster)
		}

		provider, err := buildOracle()
		if err != nil {
			exitCode = pipeline.ExitInvalidInput
			return err
		}
		if provider == nil {
			exitCode = pipeline.ExitOracleRequired
			return errors.New("analyze needs an oracle: configure oracle.name and credentials")
		}

		out := cfg.Paths.Out
		if out == "" {
			out = "out"
		}
		cache := analysis.NewCache(filepath.Join(out, "analysis"))
		if analyzeForce {
			if err := cache.Invalidate(string(target.Key.Category), target.Key.Name); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch := analysis.NewOrchestrator(provider, cache,
			analysis.WithMaxPromptTokens(cfg.Oracle.MaxPromptTokens),
			analysis.WithRateLimit(cfg.Oracle.RequestsPerSecond),
			analysis.WithLogger(slog.Default()),
		)
		result, err := orch.AnalyzeAll(ctx, []*extract.Cluster{target})
		if err != nil {
			return err
		}
		if len(result.Failures) > 0 {
			f := result.Failures[0]
			exitCode = pipeline.ExitSchemaValidation
			return fmt.Errorf("cluster %s failed at %s: %w", analyzeCluster, f.Stage, f.Err)
		}

		slog.Info("cluster analyzed",
			"cluster", analyzeCluster,
			"cache_hit", result.CacheHits == 1,
			"prompt_tokens", result.TotalUsage.PromptTokens,
		)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCluster, "cluster", "", "cluster to analyze, as category/name")
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "drop the cached inventory first")
}
