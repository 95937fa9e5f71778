package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowvale/dreadhex/internal/audit"
	"github.com/hollowvale/dreadhex/internal/config"
	"github.com/hollowvale/dreadhex/internal/pipeline"
	"github.com/hollowvale/dreadhex/pkg/provider/llm"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
	logCloser  io.Closer

	// exitCode carries the pipeline's exit code contract out through main.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:     "dreadhex",
	Short:   "Transform a HexRoll worldbook backpack into engine-ready data",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			exitCode = pipeline.ExitInvalidInput
			return err
		}
		var log *slog.Logger
		log, logCloser = config.NewLogger(cfg.Log)
		slog.SetDefault(log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "dreadhex.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(transformCmd, analyzeCmd, emitCmd, auditCmd)
}

// loadConfig reads the config file when it exists. A missing default config
// is fine: every setting has a flag or environment fallback.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return config.Load(path)
}

// buildOracle constructs the configured oracle backend, or nil for offline
// runs.
func buildOracle() (llm.Provider, error) {
	if cfg.Oracle.Name == "" {
		return nil, nil
	}
	return config.BuildOracle(cfg.Oracle, config.DefaultRegistry())
}

// printRunSummary renders the terminal box shown at the end of a transform.
func printRunSummary(res *pipeline.Result, snap map[string]int64) {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║          dreadhex — run summary               ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	for _, st := range res.Summary.Stages {
		status := "ok"
		if st.Failed {
			status = "FAILED"
		}
		fmt.Printf("║  %-12s %-8s %21s  ║\n", st.Stage, status, st.Duration.Round(time.Millisecond))
	}
	fmt.Println("╠═══════════════════════════════════════════════╣")
	kinds := make([]audit.ErrorKind, 0, len(res.Summary.Counts))
	for k := range res.Summary.Counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Printf("║  %-28s %14d  ║\n", k, res.Summary.Counts[k])
	}
	for _, key := range []string{"dreadhex.oracle.requests", "dreadhex.cache.events"} {
		total := int64(0)
		for name, v := range snap {
			if strings.HasPrefix(name, key) {
				total += v
			}
		}
		fmt.Printf("║  %-28s %14d  ║\n", strings.TrimPrefix(key, "dreadhex."), total)
	}
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
