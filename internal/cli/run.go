package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"deploytime/sync-agent/internal/handler"
	"deploytime/sync-agent/internal/router"
	"deploytime/sync-agent/internal/server"
	"deploytime/sync-agent/internal/service"
	"deploytime/sync-agent/internal/tracker"
	"deploytime/sync-agent/internal/tray"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Long:  "Start the periodic sync, the inactivity detector, the local IPC server and, if enabled, the tray menu.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, runAgent)
		},
	}
}

func runAgent(ctx context.Context, a *app) error {
	log := a.log.Logger
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if healed, err := a.store.HealNegativeDurations(ctx); err != nil {
		log.Warn("Failed to heal negative durations", zap.Error(err))
	} else if healed > 0 {
		log.Info("Healed time entries with negative duration", zap.Int64("count", healed))
	}

	log.Info("Starting DeployTime agent",
		zap.String("env", cfg.Env),
		zap.String("device_id", a.deviceID),
	)

	scheduler := service.NewScheduler(a.sync, cfg.Sync.Interval, log)
	if err := scheduler.Start(cfg.Sync.SyncOnStart); err != nil {
		return err
	}

	handlers := router.Handlers{
		Timer: handler.NewTimerHandler(a.sync, log),
		Sync:  handler.NewSyncHandler(a.sync, a.outbox, log),
	}

	var detector *tracker.InactivityDetector
	if cfg.Inactivity.Enabled {
		broker := tracker.NewPromptBroker()
		broker.OnPrompt(func(p tracker.PendingPrompt) {
			log.Info("Inactivity prompt opened",
				zap.String("prompt_id", p.ID),
				zap.String("reason", string(p.Prompt.Reason)),
				zap.Duration("idle_for", p.Prompt.IdleFor),
			)
		})

		var idle tracker.IdleSource
		if a.platform != nil {
			idle = a.platform
		}
		detector = tracker.NewInactivityDetector(cfg.Inactivity.Threshold, cfg.Inactivity.PollInterval, idle, broker, log)
		if err := detector.Start(func(ev tracker.Event) {
			a.sync.HandleInactivity(ctx, ev)
		}); err != nil {
			scheduler.Stop()
			return err
		}
		handlers.Activity = handler.NewActivityHandler(detector, broker, log)
	}

	var ipc *server.IPCServer
	if cfg.Server.Enabled {
		ipc = server.NewIPCServer(cfg.Server.Port, router.New(handlers, log), log)
		if err := ipc.Start(); err != nil {
			log.Error("IPC server unavailable", zap.Error(err))
			ipc = nil
		}
	}

	if cfg.Tray.Enabled && a.platform != nil {
		menu := tray.New(a.sync, a.platform, cfg.Backend.DashboardURL, log)
		go func() {
			<-ctx.Done()
			menu.Quit()
		}()
		menu.Run(stop)
	} else {
		<-ctx.Done()
	}

	log.Info("Shutting down DeployTime agent")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if ipc != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := ipc.Shutdown(shutdownCtx); err != nil {
				log.Warn("IPC server shutdown error", zap.Error(err))
			}
		}
		if detector != nil {
			detector.Stop()
		}
		scheduler.Stop()
	}()

	select {
	case <-done:
		log.Info("DeployTime agent stopped")
	case <-time.After(2 * shutdownTimeout):
		log.Warn("Shutdown timeout reached, a sync cycle is still running")
	}
	return nil
}
