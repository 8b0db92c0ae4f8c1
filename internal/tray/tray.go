package tray

import (
	"context"
	"fmt"
	"time"

	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/service"

	"github.com/charmbracelet/x/ansi"
	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

// maxTitleWidth bounds the task name shown in the menu, in terminal cells.
const maxTitleWidth = 32

// Agent is the part of the sync service the menu drives.
type Agent interface {
	SyncAll(ctx context.Context) service.SyncResult
	ActiveTimer(ctx context.Context) (*models.TimeEntry, error)
	StopTimer(ctx context.Context, entryID int64, notes string) (*models.TimeEntry, error)
}

type BrowserOpener interface {
	OpenBrowser(url string) error
}

// Tray is the system tray menu: sync now, stop the running timer, open the
// dashboard, quit.
type Tray struct {
	agent        Agent
	browser      BrowserOpener
	dashboardURL string
	refresh      time.Duration
	logger       *zap.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func New(agent Agent, browser BrowserOpener, dashboardURL string, logger *zap.Logger) *Tray {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tray{
		agent:        agent,
		browser:      browser,
		dashboardURL: dashboardURL,
		refresh:      30 * time.Second,
		logger:       logger,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run blocks on the tray event loop until Quit is called or the user picks
// Quit. It must be called from the main goroutine.
func (t *Tray) Run(onExit func()) {
	systray.Run(t.onReady, func() {
		t.cancel()
		if onExit != nil {
			onExit()
		}
	})
}

// Quit ends the event loop started by Run.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("DeployTime")
	systray.SetTooltip("DeployTime sync agent")

	status := systray.AddMenuItem("No active timer", "Current timer")
	status.Disable()
	systray.AddSeparator()
	syncItem := systray.AddMenuItem("Sync now", "Synchronize with the server")
	stopItem := systray.AddMenuItem("Stop timer", "Stop the running timer")
	dashItem := systray.AddMenuItem("Open dashboard", "Open the web dashboard")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Quit the agent")

	ticker := time.NewTicker(t.refresh)
	update := func() {
		status.SetTitle(t.StatusLine(t.ctx))
	}
	update()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-syncItem.ClickedCh:
				status.SetTitle(t.SyncNow(t.ctx))
			case <-stopItem.ClickedCh:
				status.SetTitle(t.StopActive(t.ctx))
			case <-dashItem.ClickedCh:
				if err := t.OpenDashboard(); err != nil {
					t.logger.Warn("Failed to open dashboard", zap.Error(err))
				}
			case <-quitItem.ClickedCh:
				systray.Quit()
				return
			case <-ticker.C:
				update()
			case <-t.ctx.Done():
				return
			}
		}
	}()
}

// StatusLine describes the running timer, if any.
func (t *Tray) StatusLine(ctx context.Context) string {
	entry, err := t.agent.ActiveTimer(ctx)
	if err != nil {
		return "Not signed in"
	}
	if entry == nil {
		return "No active timer"
	}
	name := fmt.Sprintf("task #%d", entry.TaskID)
	if entry.Task != nil && entry.Task.Name != "" {
		name = ansi.Truncate(entry.Task.Name, maxTitleWidth, "…")
	}
	return fmt.Sprintf("%s (%s)", name, entry.Duration(t.now()).Truncate(time.Minute))
}

// SyncNow runs one cycle and returns a one-line summary.
func (t *Tray) SyncNow(ctx context.Context) string {
	result := t.agent.SyncAll(ctx)
	switch {
	case result.Skipped:
		return "Sync already running"
	case !result.Success:
		return "Sync failed"
	case result.OutboxPending > 0:
		return fmt.Sprintf("Synced, %d pending", result.OutboxPending)
	default:
		return "Synced"
	}
}

// StopActive stops the running timer. A stop that could not reach the
// server is queued for the next sync.
func (t *Tray) StopActive(ctx context.Context) string {
	entry, err := t.agent.ActiveTimer(ctx)
	if err != nil {
		return "Not signed in"
	}
	if entry == nil {
		return "No active timer"
	}
	if _, err := t.agent.StopTimer(ctx, entry.ID, entry.Notes); err != nil {
		if service.IsQueued(err) {
			return "Stop queued"
		}
		t.logger.Warn("Failed to stop timer from tray", zap.Int64("entry_id", entry.ID), zap.Error(err))
		return "Stop failed"
	}
	return "Timer stopped"
}

func (t *Tray) OpenDashboard() error {
	if t.dashboardURL == "" {
		return fmt.Errorf("dashboard url is not configured")
	}
	return t.browser.OpenBrowser(t.dashboardURL)
}
