// Package config loads the launcher settings. Settings are read once at
// startup and never mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the settings file looked up next to the executable.
const FileName = "launcher.yaml"

// Settings is the complete, immutable launcher configuration.
type Settings struct {
	Paths       PathSettings        `yaml:"paths"`
	Maintenance MaintenanceSettings `yaml:"maintenance"`
	Behavior    BehaviorSettings    `yaml:"behavior"`
	IPC         IPCSettings         `yaml:"ipc"`
	Power       PowerSettings       `yaml:"power"`
	Desktop     DesktopSettings     `yaml:"desktop"`
	History     HistorySettings     `yaml:"history"`
}

// PathSettings locates the managed app and the launcher's own files.
type PathSettings struct {
	App     string   `yaml:"app"`
	AppArgs []string `yaml:"app_args"`
	Flag    string   `yaml:"flag"`
	Log     string   `yaml:"log"`
	WorkDir string   `yaml:"work_dir"`
}

// MaintenanceSettings configures the boot-time corner gate.
type MaintenanceSettings struct {
	Enable       bool     `yaml:"enable"`
	WindowMs     int      `yaml:"window_ms"`
	HoldMs       int      `yaml:"hold_ms"`
	CornerPx     int      `yaml:"corner_px"`
	Corner       string   `yaml:"corner"`
	InputDevices []string `yaml:"input_devices"` // empty: auto-discover
	ScreenWidth  int      `yaml:"screen_width"`  // 0: use the device's axis range
	ScreenHeight int      `yaml:"screen_height"`
}

// BehaviorSettings configures the exit policy.
type BehaviorSettings struct {
	OnAppExit      string `yaml:"on_app_exit"`
	RestartDelayMs int    `yaml:"restart_delay_ms"`
}

// IPCSettings configures the command channel.
type IPCSettings struct {
	Enable        bool   `yaml:"enable"`
	Socket        string `yaml:"socket"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

// PowerSettings gates power commands.
type PowerSettings struct {
	AllowShutdown        bool `yaml:"allow_shutdown"`
	AllowReboot          bool `yaml:"allow_reboot"`
	KillAppBeforePowerMs int  `yaml:"kill_app_before_power_ms"`
}

// DesktopSettings names the desktop shell command.
type DesktopSettings struct {
	Command []string `yaml:"command"`
}

// HistorySettings configures the encrypted run history.
type HistorySettings struct {
	Enable  bool   `yaml:"enable"`
	DataDir string `yaml:"data_dir"`
}

// Dirs are the base directories used to derive default paths.
type Dirs struct {
	ConfigDir  string
	DataDir    string
	RuntimeDir string
	LogDir     string
}

// Default returns the built-in settings rooted at dirs.
func Default(dirs Dirs) Settings {
	return Settings{
		Paths: PathSettings{
			App:     filepath.Join(dirs.DataDir, "app", "kiosk-app"),
			Flag:    filepath.Join(dirs.DataDir, "maintenance.flag"),
			Log:     filepath.Join(dirs.LogDir, "launcher.log"),
			WorkDir: filepath.Join(dirs.DataDir, "app"),
		},
		Maintenance: MaintenanceSettings{
			Enable:   true,
			WindowMs: 5000,
			HoldMs:   1500,
			CornerPx: 120,
			Corner:   "top-left",
		},
		Behavior: BehaviorSettings{
			OnAppExit:      "enter-desktop",
			RestartDelayMs: 300,
		},
		IPC: IPCSettings{
			Enable:        true,
			Socket:        filepath.Join(dirs.RuntimeDir, "kioskd.sock"),
			ReadTimeoutMs: 5000,
		},
		Power: PowerSettings{
			AllowShutdown:        true,
			AllowReboot:          true,
			KillAppBeforePowerMs: 3000,
		},
		Desktop: DesktopSettings{
			Command: []string{"x-session-manager"},
		},
		History: HistorySettings{
			Enable:  true,
			DataDir: dirs.DataDir,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error: the
// defaults are returned unchanged. Keys absent from the file keep their
// default values.
func Load(path string, defaults Settings) (Settings, error) {
	s := defaults
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.normalize(), nil
		}
		return defaults.normalize(), fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return defaults.normalize(), fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s.normalize(), nil
}

// normalize expands ~ in paths and clamps negative durations.
func (s Settings) normalize() Settings {
	s.Paths.App = expandHome(s.Paths.App)
	s.Paths.Flag = expandHome(s.Paths.Flag)
	s.Paths.Log = expandHome(s.Paths.Log)
	s.Paths.WorkDir = expandHome(s.Paths.WorkDir)
	s.IPC.Socket = expandHome(s.IPC.Socket)
	s.History.DataDir = expandHome(s.History.DataDir)
	s.Paths.AppArgs = append([]string(nil), s.Paths.AppArgs...)
	s.Desktop.Command = append([]string(nil), s.Desktop.Command...)
	s.Maintenance.InputDevices = append([]string(nil), s.Maintenance.InputDevices...)

	s.Maintenance.WindowMs = max(s.Maintenance.WindowMs, 0)
	s.Maintenance.HoldMs = max(s.Maintenance.HoldMs, 0)
	s.Maintenance.CornerPx = max(s.Maintenance.CornerPx, 1)
	s.Behavior.RestartDelayMs = max(s.Behavior.RestartDelayMs, 0)
	s.IPC.ReadTimeoutMs = max(s.IPC.ReadTimeoutMs, 0)
	s.Power.KillAppBeforePowerMs = max(s.Power.KillAppBeforePowerMs, 0)
	return s
}

// Window is the maintenance detection window.
func (m MaintenanceSettings) Window() time.Duration { return ms(m.WindowMs) }

// Hold is the required press duration.
func (m MaintenanceSettings) Hold() time.Duration { return ms(m.HoldMs) }

// RestartDelay is the pause before relaunching under the restart policy.
func (b BehaviorSettings) RestartDelay() time.Duration { return ms(b.RestartDelayMs) }

// ReadTimeout bounds reading one command from a channel connection.
func (i IPCSettings) ReadTimeout() time.Duration { return ms(i.ReadTimeoutMs) }

// Grace is how long to wait for the managed app before a power action.
func (p PowerSettings) Grace() time.Duration { return ms(p.KillAppBeforePowerMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
