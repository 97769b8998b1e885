package infra

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/eliteGoblin/kioskd/internal/config"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs inside a user session (autostart, no root)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root from a system service
	ExecModeSystem ExecMode = "system"
)

const appName = "kioskd"

// ExecModeConfig holds default locations based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	ConfigDir  string // launcher.yaml when none sits next to the binary
	DataDir    string // encrypted history and its key
	RuntimeDir string // command socket
	LogDir     string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return detectExecMode(os.Geteuid(), GetRealUserHome(), os.Getenv)
}

func detectExecMode(euid int, home string, getenv func(string) string) *ExecModeConfig {
	if euid == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			ConfigDir:  "/etc/" + appName,
			DataDir:    "/var/lib/" + appName,
			RuntimeDir: "/run/" + appName,
			LogDir:     "/var/log/" + appName,
			IsRoot:     true,
		}
	}

	xdg := func(env string, fallback ...string) string {
		if dir := getenv(env); dir != "" {
			return filepath.Join(dir, appName)
		}
		return filepath.Join(append([]string{home}, append(fallback, appName)...)...)
	}

	runtimeDir := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appName, euid))
	if dir := getenv("XDG_RUNTIME_DIR"); dir != "" {
		runtimeDir = filepath.Join(dir, appName)
	}

	return &ExecModeConfig{
		Mode:       ExecModeUser,
		ConfigDir:  xdg("XDG_CONFIG_HOME", ".config"),
		DataDir:    xdg("XDG_DATA_HOME", ".local", "share"),
		RuntimeDir: runtimeDir,
		LogDir:     xdg("XDG_STATE_HOME", ".local", "state"),
		IsRoot:     false,
	}
}

// Dirs returns the base directories used for default settings.
func (c *ExecModeConfig) Dirs() config.Dirs {
	return config.Dirs{
		ConfigDir:  c.ConfigDir,
		DataDir:    c.DataDir,
		RuntimeDir: c.RuntimeDir,
		LogDir:     c.LogDir,
	}
}

// ConfigPath returns the settings file to load: launcher.yaml next to the
// executable if present, otherwise the one in ConfigDir.
func (c *ExecModeConfig) ConfigPath(executable string) string {
	if executable != "" {
		local := filepath.Join(filepath.Dir(executable), config.FileName)
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	return filepath.Join(c.ConfigDir, config.FileName)
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root service)"
	case ExecModeUser:
		return "user (session autostart)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	// Check if running under sudo
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	// Fall back to default
	home, _ := os.UserHomeDir()
	return home
}
