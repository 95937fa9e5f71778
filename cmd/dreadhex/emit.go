package main

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hollowvale/dreadhex/internal/emit"
	"github.com/hollowvale/dreadhex/internal/pipeline"
	"github.com/hollowvale/dreadhex/internal/resolve"
)

var emitOut string

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Re-emit generated sources from the resolved world",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emitOut != "" {
			cfg.Paths.Out = emitOut
		}
		out := cfg.Paths.Out
		if out == "" {
			out = "out"
		}

		world, err := resolve.LoadWorld(filepath.Join(out, "resolved", "world.json"))
		if err != nil {
			exitCode = pipeline.ExitInvalidInput
			return err
		}

		files, err := emit.New(filepath.Join(out, "generated")).Emit(world)
		if err != nil {
			var emitErr *emit.EmitError
			if errors.As(err, &emitErr) {
				exitCode = pipeline.ExitEmission
			}
			return err
		}
		slog.Info("emitted worldbook sources", "files", len(files))
		return nil
	},
}

func init() {
	emitCmd.Flags().StringVar(&emitOut, "out", "", "output directory root")
}
