package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlatform_SystemInfo(t *testing.T) {
	p, err := NewPlatform()
	if err != nil {
		var unsupported *UnsupportedPlatformError
		require.ErrorAs(t, err, &unsupported)
		t.Skip(err.Error())
	}

	info, err := p.GetSystemInfo()
	require.NoError(t, err)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.NotEmpty(t, info.Hostname)
}
