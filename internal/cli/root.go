package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"deploytime/sync-agent/internal/client"
	"deploytime/sync-agent/internal/config"
	"deploytime/sync-agent/internal/database"
	"deploytime/sync-agent/internal/device"
	"deploytime/sync-agent/internal/logger"
	"deploytime/sync-agent/internal/platform"
	"deploytime/sync-agent/internal/queue"
	"deploytime/sync-agent/internal/repository"
	"deploytime/sync-agent/internal/service"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Execute runs the deploytime-agent command line.
func Execute() error {
	return NewRootCommand().Execute()
}

type rootOptions struct {
	configPath string
	noColor    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "deploytime-agent",
		Short: "DeployTime desktop sync agent",
		Long: `deploytime-agent keeps a local copy of your DeployTime projects, tasks and
time entries, queues timer changes made while offline and replays them once
the server is reachable again.

EXAMPLES:
  deploytime-agent login --email me@example.com    # Sign in and run a first sync
  deploytime-agent run                             # Start the agent (IPC server, scheduler, tray)
  deploytime-agent status                          # Show session, active timer and outbox
  deploytime-agent sync                            # Run one sync cycle now
  deploytime-agent config set server_url https://deploytime.example.com/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor || os.Getenv("NO_COLOR") != "" {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/local.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output (also NO_COLOR)")

	root.AddCommand(
		newRunCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newSyncCommand(opts),
		newStatusCommand(opts),
		newOutboxCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// app holds the components every command works with.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	store    *repository.LocalStore
	outbox   *queue.Outbox
	platform platform.Platform
	api      *client.APIClient
	sync     *service.SyncService
	deviceID string
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		store:  repository.NewLocalStore(db.DB, log.Logger),
		outbox: queue.NewOutbox(db.DB, log.Logger),
	}

	var machineIDs device.MachineIDSource
	if p, err := platform.NewPlatform(); err != nil {
		log.Warn("Platform features unavailable", zap.Error(err))
	} else {
		a.platform = p
		machineIDs = p
	}

	a.deviceID, err = device.InstallationID(ctx, a.store, machineIDs)
	if err != nil {
		a.Close()
		return nil, err
	}

	baseURL := cfg.Backend.BaseURL
	if stored, err := a.store.GetConfig(ctx, repository.ConfigServerURL); err == nil && stored != "" {
		baseURL = stored
	}

	a.api = client.NewAPIClient(baseURL, a.deviceID, cfg.RequestTimeout(), a.store, log.Logger)
	a.api.OnUnauthorized(func() {
		log.Warn("Session expired, sign in again")
	})
	a.sync = service.NewSyncService(a.store, a.outbox, a.api, cfg.Sync.HistoryDays, log.Logger)

	log.Debug("Agent components ready",
		zap.String("device_id", a.deviceID),
		zap.String("backend_url", baseURL),
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// readPassword takes the password from DEPLOYTIME_PASSWORD or the first
// line of stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	if pw := os.Getenv("DEPLOYTIME_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", errors.New("password is required")
	}
	return strings.TrimSpace(line), nil
}
