package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a job once, now, across all active tenants",
	Long: `Runs the named job immediately and prints the recorded execution with its
tenant outcomes. If another instance holds the job's lock the run is
recorded as skipped. The exit status is non-zero unless the run succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		eng, cl, err := buildEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cl.close()

		e, runErr := eng.Run(cmd.Context(), args[0])
		if e == nil {
			return runErr
		}
		tenants, err := eng.Tenants(cmd.Context(), e.ID)
		if err != nil && !errors.Is(err, tenantrun.ErrExecutionNotFound) {
			return err
		}

		p := newPrinter(cmd)
		if err := p.execution(e, tenants); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if e.Status != execution.StatusSuccess && e.Status != execution.StatusSkipped {
			return fmt.Errorf("run finished %s", e.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
