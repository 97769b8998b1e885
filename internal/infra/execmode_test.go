package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/kioskd/internal/config"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDetectExecMode_System(t *testing.T) {
	mode := detectExecMode(0, "/root", envMap(nil))

	assert.Equal(t, ExecModeSystem, mode.Mode)
	assert.True(t, mode.IsRoot)
	assert.Equal(t, "/etc/kioskd", mode.ConfigDir)
	assert.Equal(t, "/var/lib/kioskd", mode.DataDir)
	assert.Equal(t, "/run/kioskd", mode.RuntimeDir)
	assert.Equal(t, "/var/log/kioskd", mode.LogDir)
}

func TestDetectExecMode_UserDefaults(t *testing.T) {
	mode := detectExecMode(1000, "/home/kiosk", envMap(nil))

	assert.Equal(t, ExecModeUser, mode.Mode)
	assert.False(t, mode.IsRoot)
	assert.Equal(t, "/home/kiosk/.config/kioskd", mode.ConfigDir)
	assert.Equal(t, "/home/kiosk/.local/share/kioskd", mode.DataDir)
	assert.Equal(t, "/home/kiosk/.local/state/kioskd", mode.LogDir)
	assert.Equal(t, filepath.Join(os.TempDir(), "kioskd-1000"), mode.RuntimeDir)
}

func TestDetectExecMode_UserHonoursXDG(t *testing.T) {
	mode := detectExecMode(1000, "/home/kiosk", envMap(map[string]string{
		"XDG_CONFIG_HOME": "/cfg",
		"XDG_DATA_HOME":   "/data",
		"XDG_STATE_HOME":  "/state",
		"XDG_RUNTIME_DIR": "/run/user/1000",
	}))

	assert.Equal(t, "/cfg/kioskd", mode.ConfigDir)
	assert.Equal(t, "/data/kioskd", mode.DataDir)
	assert.Equal(t, "/state/kioskd", mode.LogDir)
	assert.Equal(t, "/run/user/1000/kioskd", mode.RuntimeDir)
}

func TestExecModeConfig_Dirs(t *testing.T) {
	mode := detectExecMode(0, "/root", envMap(nil))

	assert.Equal(t, config.Dirs{
		ConfigDir:  "/etc/kioskd",
		DataDir:    "/var/lib/kioskd",
		RuntimeDir: "/run/kioskd",
		LogDir:     "/var/log/kioskd",
	}, mode.Dirs())
}

func TestExecModeConfig_ConfigPath(t *testing.T) {
	binDir := t.TempDir()
	exe := filepath.Join(binDir, "kioskd")
	mode := &ExecModeConfig{ConfigDir: "/etc/kioskd"}

	assert.Equal(t, "/etc/kioskd/launcher.yaml", mode.ConfigPath(exe), "falls back to the config dir")
	assert.Equal(t, "/etc/kioskd/launcher.yaml", mode.ConfigPath(""))

	local := filepath.Join(binDir, config.FileName)
	require.NoError(t, os.WriteFile(local, []byte("paths: {}\n"), 0o644))
	assert.Equal(t, local, mode.ConfigPath(exe), "prefers the file next to the binary")
}

func TestExecMode_String(t *testing.T) {
	assert.Equal(t, "system (root service)", ExecModeSystem.String())
	assert.Equal(t, "user (session autostart)", ExecModeUser.String())
	assert.Equal(t, "unknown", ExecMode("bogus").String())
}
