package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/wabot/pkg/metrics"
)

const schedulerInterval = 10 * time.Second

// StartSchedulerService refreshes runtime config overrides and samples the
// connection gauge until ctx is cancelled.
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(schedulerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulerTick(ctx)
			}
		}
	}()
}

func (a *Application) runSchedulerTick(ctx context.Context) {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	if err := a.configManager.Reload(ctx); err != nil {
		zap.L().Warn("reload bot config failed", zap.String("namespace", "app"), zap.Error(err))
	}

	var connected int64
	if a.manager != nil && a.manager.IsConnected() {
		connected = 1
	}
	metrics.SetGauge(metrics.BotConnected, connected)
}
