package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/lock"
	"github.com/xraph/tenantrun/store"
)

// openForQuery opens the stores the read-only commands need.
func openForQuery(ctx context.Context) (store.Store, lock.Store, closers, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	var cl closers
	s, err := openStore(ctx, cfg.Store, &cl)
	if err != nil {
		cl.close()
		return nil, nil, nil, err
	}
	ls, err := openLockStore(cfg.Lock)
	if err != nil {
		cl.close()
		return nil, nil, nil, err
	}
	if ls == nil {
		ls = s
	}
	return s, ls, cl, nil
}

var statusCmd = &cobra.Command{
	Use:   "status <job>",
	Short: "Show the latest execution of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, cl, err := openForQuery(cmd.Context())
		if err != nil {
			return err
		}
		defer cl.close()

		e, err := s.LatestExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tenants, err := s.ListTenantExecutions(cmd.Context(), e.ID)
		if err != nil {
			return err
		}
		return newPrinter(cmd).execution(e, tenants)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <job>",
	Short: "List recent executions of a job, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		if limit == 0 {
			cfg, err := currentConfig()
			if err != nil {
				return err
			}
			limit = cfg.Engine.HistoryLimit
		}

		s, _, cl, err := openForQuery(cmd.Context())
		if err != nil {
			return err
		}
		defer cl.close()

		list, err := s.ListExecutions(cmd.Context(), args[0], execution.ListOpts{
			Limit:  limit,
			Status: execution.Status(status),
		})
		if err != nil {
			return err
		}
		return newPrinter(cmd).executions(list)
	},
}

var tenantsCmd = &cobra.Command{
	Use:   "tenants <execution-id>",
	Short: "List tenant outcomes of one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		execID, err := id.ParseExecutionID(args[0])
		if err != nil {
			return fmt.Errorf("invalid execution id: %w", err)
		}

		s, _, cl, err := openForQuery(cmd.Context())
		if err != nil {
			return err
		}
		defer cl.close()

		e, err := s.GetExecution(cmd.Context(), execID)
		if err != nil {
			return err
		}
		tenants, err := s.ListTenantExecutions(cmd.Context(), execID)
		if err != nil {
			return err
		}
		return newPrinter(cmd).execution(e, tenants)
	},
}

var locksCmd = &cobra.Command{
	Use:   "locks [job...]",
	Short: "Show who holds the lock of each job",
	Long:  `Shows the live lock of each named job, or of every configured job when none is named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			cfg, err := currentConfig()
			if err != nil {
				return err
			}
			for _, j := range cfg.Jobs {
				args = append(args, j.Name)
			}
		}

		_, ls, cl, err := openForQuery(cmd.Context())
		if err != nil {
			return err
		}
		defer cl.close()

		rows := make([]lockRow, 0, len(args))
		for _, name := range args {
			l, err := ls.GetLock(cmd.Context(), name)
			switch {
			case errors.Is(err, tenantrun.ErrLockNotFound):
				rows = append(rows, lockRow{JobName: name})
			case err != nil:
				return err
			default:
				rows = append(rows, lockRow{JobName: name, Lock: l})
			}
		}
		return newPrinter(cmd).locks(rows)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		if err := runMigrate(cmd.Context(), cfg); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

func runMigrate(ctx context.Context, cfg *fileConfig) error {
	var cl closers
	defer func() { cl.close() }()

	s, err := openStore(ctx, cfg.Store, &cl)
	if err != nil {
		return err
	}
	return s.Migrate(ctx)
}

func init() {
	historyCmd.Flags().Int("limit", 0, "maximum executions to list (default engine.history_limit)")
	historyCmd.Flags().String("status", "", "only executions with this status")

	rootCmd.AddCommand(statusCmd, historyCmd, tenantsCmd, locksCmd, migrateCmd)
}
