package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hollowvale/dreadhex/internal/audit"
	"github.com/hollowvale/dreadhex/internal/pipeline"
	"github.com/hollowvale/dreadhex/internal/resolve"
)

var auditRun bool

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run validation audits against the currently resolved world",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !auditRun {
			return errors.New("pass --run to execute the audits")
		}
		reporter := newReporter()
		if reporter == nil {
			exitCode = pipeline.ExitInvalidInput
			return errors.New("no reports directory: set audit.reports_dir or AUDIT_REPORTS_DIR")
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

		for _, rep := range []audit.Reportable{
			audit.DanglingEdges(world),
			audit.AuthorityConflicts(world),
		} {
			path, err := reporter.Write(rep)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %4d rows  %s\n", rep.Name(), len(rep.Rows()), path)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditRun, "run", false, "execute audits against resolved/world.json")
}
