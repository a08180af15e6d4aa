package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xraph/forge"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/xraph/tenantrun/alert"
	"github.com/xraph/tenantrun/api"
	audithook "github.com/xraph/tenantrun/audit_hook"
	"github.com/xraph/tenantrun/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Long: `Starts the cron trigger for every scheduled job, serves the operator API
under /v1 and, unless disabled, Prometheus metrics under /metrics. Runs
until interrupted; in-flight runs get engine.shutdown_timeout to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
			if err := runMigrate(cmd.Context(), cfg); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *fileConfig) error {
	mux := http.NewServeMux()
	var opts []engine.Option

	if cfg.HTTP.Metrics {
		exporter, err := otelprom.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		defer func() { _ = provider.Shutdown(context.Background()) }()

		opts = append(opts, engine.WithMeterProvider(provider))
		mux.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Alert.Enabled {
		opts = append(opts, engine.WithExtension(alert.NewExtension(
			alert.LogNotifier{Logger: slog.Default()},
			alert.WithFailureRateThreshold(cfg.Alert.FailureRateThreshold),
		)))
	}

	if cfg.Audit.Enabled {
		opts = append(opts, engine.WithExtension(newAuditExtension(cfg.Audit)))
	}

	eng, cl, err := buildEngine(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer cl.close()

	mux.Handle("/", api.New(eng, forge.NewRouter()).Handler())
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tenantrun listening", slog.String("addr", cfg.HTTP.Addr), slog.Int("jobs", len(cfg.Jobs)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// newAuditExtension records audit events as structured log lines.
func newAuditExtension(cfg auditConfig) *audithook.Extension {
	logger := slog.Default().With(slog.String("component", "audit"))
	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
			slog.Any("metadata", evt.Metadata),
		}
		if evt.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", evt.TenantID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})

	opts := []audithook.Option{audithook.WithLogger(logger)}
	if len(cfg.Actions) > 0 {
		opts = append(opts, audithook.WithActions(cfg.Actions...))
	}
	return audithook.New(rec, opts...)
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "apply store migrations before starting")
	rootCmd.AddCommand(serveCmd)
}
