//go:build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type linuxImpl struct{}

func newPlatform() (Platform, error) {
	return &linuxImpl{}, nil
}

// IdleTime asks xprintidle when it is installed; there is no portable
// input-idle API across X11 and Wayland.
func (p *linuxImpl) IdleTime() (time.Duration, error) {
	path, err := exec.LookPath("xprintidle")
	if err != nil {
		return 0, ErrNotSupported
	}
	out, err := exec.Command(path).Output()
	if err != nil {
		return 0, fmt.Errorf("xprintidle failed: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected xprintidle output %q: %w", out, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (p *linuxImpl) MachineID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		id, err := os.ReadFile(path)
		if err == nil && len(strings.TrimSpace(string(id))) > 0 {
			return strings.TrimSpace(string(id)), nil
		}
	}
	return "", fmt.Errorf("machine-id: %w", ErrNotSupported)
}

func (p *linuxImpl) GetSystemInfo() (*SystemInfo, error) {
	return systemInfo()
}

func (p *linuxImpl) OpenBrowser(url string) error {
	// Try common Linux browser commands
	browsers := []string{"xdg-open", "x-www-browser", "firefox", "google-chrome", "chromium"}
	for _, browser := range browsers {
		if _, err := exec.LookPath(browser); err != nil {
			continue
		}
		return exec.Command(browser, url).Start()
	}
	return fmt.Errorf("no browser found")
}
