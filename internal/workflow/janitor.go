package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepFunc removes expired state and reports how much was dropped.
type SweepFunc func(ctx context.Context) (int, error)

// RunJanitor calls sweep every interval until ctx is done.
func RunJanitor(ctx context.Context, name string, interval time.Duration, sweep SweepFunc, logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweep(ctx)
			if err != nil {
				logger.Warn("janitor sweep failed", zap.String("janitor", name), zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("janitor sweep", zap.String("janitor", name), zap.Int("removed", removed))
			}
		}
	}
}
