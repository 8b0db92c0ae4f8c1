//go:build darwin

package platform

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

type darwinImpl struct{}

var (
	hidIdleRe  = regexp.MustCompile(`"HIDIdleTime" = (\d+)`)
	platUUIDRe = regexp.MustCompile(`"IOPlatformUUID" = "([^"]+)"`)
)

func newPlatform() (Platform, error) {
	return &darwinImpl{}, nil
}

func (p *darwinImpl) IdleTime() (time.Duration, error) {
	out, err := exec.Command("ioreg", "-c", "IOHIDSystem", "-d", "4").Output()
	if err != nil {
		return 0, fmt.Errorf("ioreg failed: %w", err)
	}
	m := hidIdleRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("HIDIdleTime: %w", ErrNotSupported)
	}
	ns, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid HIDIdleTime: %w", err)
	}
	return time.Duration(ns), nil
}

func (p *darwinImpl) MachineID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", fmt.Errorf("ioreg failed: %w", err)
	}
	m := platUUIDRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("IOPlatformUUID: %w", ErrNotSupported)
	}
	return string(m[1]), nil
}

func (p *darwinImpl) GetSystemInfo() (*SystemInfo, error) {
	return systemInfo()
}

func (p *darwinImpl) OpenBrowser(url string) error {
	return exec.Command("open", url).Start()
}
