// Package cmd implements the tenantrun command tree.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tenantrun",
	Short: "Run recurring jobs across every tenant, exactly once per schedule",
	Long: `tenantrun schedules recurring jobs and runs each one across all active
tenants. A lease lock in the shared store keeps one instance running a job
at a time; every run and every tenant outcome is recorded.

Common workflows:

  Start the scheduler and HTTP API:
    tenantrun serve --config tenantrun.yaml

  Run a job once, now:
    tenantrun run nightly-report

  Inspect what happened:
    tenantrun status nightly-report
    tenantrun history nightly-report --limit 10 --status failed
    tenantrun tenants <execution-id>
    tenantrun locks

Configuration:
  Settings come from a YAML file (--config, or ./tenantrun.yaml) and from
  environment variables prefixed with TENANTRUN_, e.g.
    TENANTRUN_STORE_DRIVER=postgres
    TENANTRUN_STORE_DSN=postgres://...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		setupLogger(viper.GetString("log_level"), cmd.ErrOrStderr())
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tenantrun")
		viper.SetConfigName("tenantrun")
		viper.SetConfigType("yaml")
	}

	// TENANTRUN_STORE_DSN overrides store.dsn.
	viper.SetEnvPrefix("TENANTRUN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", slog.String("path", viper.ConfigFileUsed()))
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "read config %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

func setupLogger(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tenantrun.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	setDefaults(viper.GetViper())
}
