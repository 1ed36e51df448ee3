package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"algo-exec-go/internal/container"
)

func newRunCmd(rc *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run strategies against the configured live feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.New(rc.configPath, container.Options{Mode: container.ModeLive})
			if err != nil {
				return err
			}
			if err := c.Build(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Start(ctx); err != nil {
				return err
			}
			log := c.Logger()
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				log.Warn("sd_notify ready failed", zap.Error(err))
			} else if ok {
				log.Info("systemd notified: ready")
			}
			go watchdog(ctx, c, log.Logger)

			st, runErr := c.Run(ctx)
			if errors.Is(runErr, context.Canceled) {
				runErr = nil
			}
			sum := c.Summary(st)
			log.Info("run finished",
				zap.Int("ticks", st.Ticks),
				zap.Int("skipped", st.Skipped),
				zap.Int("fills", st.Venue.Fills),
				zap.Strings("degraded", sum.Degraded),
				zap.Int("drifts", len(sum.Drifts)))

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			if err := c.Stop(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

// watchdog 在 systemd 开启 WatchdogSec 时按一半周期上报，组件不健康时停止上报。
func watchdog(ctx context.Context, c *container.Container, log *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				log.Warn("health check failed, skipping watchdog", zap.Error(err))
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
