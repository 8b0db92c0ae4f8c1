//go:build windows

package platform

import (
	"fmt"
	"os/exec"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type windowsImpl struct{}

var (
	user32   = windows.NewLazyDLL("user32.dll")
	kernel32 = windows.NewLazyDLL("kernel32.dll")

	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
	procGetTickCount     = kernel32.NewProc("GetTickCount")
)

// lastInputInfo mirrors LASTINPUTINFO.
type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

func newPlatform() (Platform, error) {
	if err := procGetLastInputInfo.Find(); err != nil {
		return nil, fmt.Errorf("GetLastInputInfo unavailable: %w", err)
	}
	return &windowsImpl{}, nil
}

func (p *windowsImpl) IdleTime() (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, fmt.Errorf("GetLastInputInfo failed: %w", err)
	}
	now, _, _ := procGetTickCount.Call()
	// Both counters are milliseconds since boot and wrap every 49.7 days;
	// unsigned subtraction handles the wrap.
	idle := uint32(now) - info.dwTime
	return time.Duration(idle) * time.Millisecond, nil
}

func (p *windowsImpl) MachineID() (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Cryptography`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return "", fmt.Errorf("failed to open registry key: %w", err)
	}
	defer key.Close()

	guid, _, err := key.GetStringValue("MachineGuid")
	if err != nil {
		return "", fmt.Errorf("failed to read MachineGuid: %w", err)
	}
	return guid, nil
}

func (p *windowsImpl) GetSystemInfo() (*SystemInfo, error) {
	return systemInfo()
}

func (p *windowsImpl) OpenBrowser(url string) error {
	// Start, not Run: the browser keeps running after cmd exits.
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
}
