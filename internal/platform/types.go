package platform

import (
	"errors"
	"time"
)

// ErrNotSupported is returned by operations the host OS cannot provide.
var ErrNotSupported = errors.New("not supported on this platform")

// Platform defines the interface for platform-specific operations
type Platform interface {
	// IdleTime returns how long ago the last keyboard or mouse input was seen.
	IdleTime() (time.Duration, error)

	// MachineID returns a stable identifier of the host, if the OS has one
	MachineID() (string, error)

	// GetSystemInfo returns system information
	GetSystemInfo() (*SystemInfo, error)

	// OpenBrowser opens the default browser with the given URL
	OpenBrowser(url string) error
}

// SystemInfo contains system information
type SystemInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}
