package cli

import (
	"fmt"
	"strings"
	"time"

	"deploytime/sync-agent/internal/models"
	"deploytime/sync-agent/internal/service"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Width(12)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7DC6F"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
)

type statusView struct {
	User      *models.User
	Active    *models.TimeEntry
	Pending   int
	DeviceID  string
	ServerURL string
	Now       time.Time
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderStatus(v statusView) string {
	now := v.Now
	if now.IsZero() {
		now = time.Now()
	}

	user := warnStyle.Render("not signed in")
	if v.User != nil {
		user = fmt.Sprintf("%s <%s>", v.User.Name, v.User.Email)
	}

	timer := "none"
	if v.Active != nil {
		name := fmt.Sprintf("task #%d", v.Active.TaskID)
		if v.Active.Task != nil && v.Active.Task.Name != "" {
			name = v.Active.Task.Name
		}
		timer = successStyle.Render(fmt.Sprintf("%s, running %s", name, v.Active.Duration(now).Truncate(time.Second)))
	}

	pending := successStyle.Render("0")
	if v.Pending > 0 {
		pending = warnStyle.Render(fmt.Sprintf("%d waiting", v.Pending))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		row("User", user),
		row("Timer", timer),
		row("Outbox", pending),
		row("Server", v.ServerURL),
		row("Device", v.DeviceID),
	)
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("DeployTime"), boxStyle.Render(body))
}

func renderSyncResult(r service.SyncResult) string {
	if r.Skipped {
		return warnStyle.Render("Sync already in progress")
	}

	var b strings.Builder
	if r.Success {
		b.WriteString(successStyle.Render("Sync complete"))
	} else {
		b.WriteString(errorStyle.Render("Sync failed"))
	}
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n%s",
		row("Projects", fmt.Sprint(r.ProjectsSynced)),
		row("Tasks", fmt.Sprint(r.TasksSynced)),
		row("Entries", fmt.Sprint(r.TimeEntriesSynced)),
		row("Outbox", fmt.Sprintf("%d replayed, %d dropped, %d pending", r.OutboxReplayed, r.OutboxDropped, r.OutboxPending)),
	)
	for _, e := range r.Errors {
		b.WriteString("\n" + errorStyle.Render("! "+e))
	}
	return b.String()
}

func renderOutbox(items []models.OutboxItem) string {
	if len(items) == 0 {
		return "Outbox is empty"
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, titleStyle.Render(fmt.Sprintf("%d queued", len(items))))
	for _, item := range items {
		m := item.Mutation
		target := "-"
		if id := m.TargetID(); id != 0 {
			target = fmt.Sprint(id)
		}
		lines = append(lines, fmt.Sprintf("#%-4d %-10s %-8s %-6s %s",
			item.ID, m.EntityType(), m.Action(), target, item.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return strings.Join(lines, "\n")
}
