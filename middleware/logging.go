package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		logger.Debug("tenant attempt started",
			slog.String("job", a.JobName),
			slog.String("execution_id", a.ExecutionID),
			slog.String("tenant", a.TenantID),
			slog.Int("attempt", a.Number),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("tenant attempt failed",
				slog.String("job", a.JobName),
				slog.String("execution_id", a.ExecutionID),
				slog.String("tenant", a.TenantID),
				slog.Int("attempt", a.Number),
				slog.Int("max_attempts", a.MaxAttempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("tenant attempt succeeded",
				slog.String("job", a.JobName),
				slog.String("execution_id", a.ExecutionID),
				slog.String("tenant", a.TenantID),
				slog.Int("attempt", a.Number),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
