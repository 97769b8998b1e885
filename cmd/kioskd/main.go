// Package main is the CLI entry point for kioskd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/kioskd/internal/clock"
	"github.com/eliteGoblin/kioskd/internal/config"
	"github.com/eliteGoblin/kioskd/internal/daemon"
	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/infra"
	"github.com/eliteGoblin/kioskd/internal/policy"
	"github.com/eliteGoblin/kioskd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "Kiosk supervisor - keeps one app in the foreground",
	Long: `kioskd launches and supervises a single kiosk application.

At boot it checks the maintenance flag file and gives a short window to
hold a screen corner for maintenance. It then runs the app, applies the
exit policy when the app exits, and accepts shutdown, reboot, exitapp and
maintenance commands on a local socket.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor",
	Long: `Runs the maintenance gate, the command channel and the supervision loop.
SIGINT or SIGTERM stops the managed app and exits without entering the desktop.`,
	RunE: runSupervisor,
}

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send a command to a running supervisor",
	Long: `Sends one command (noop, exitapp, shutdown, reboot, maintenance) over the
command socket. It returns once the command is delivered, not when it completes.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and print the effective settings",
	Long:  `Loads launcher.yaml over the built-in defaults and prints the result. A malformed file is an error.`,
	RunE:  runCheck,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent supervision events",
	Long:  `Prints recent launches, exits, commands and power requests from the encrypted history, newest first.`,
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	socketPath   string
	debugLogging bool
	historyLimit int
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: launcher.yaml next to the binary, else the mode's config dir)")
	runCmd.Flags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")
	sendCmd.Flags().StringVar(&socketPath, "socket", "", "Command socket (default: from settings)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of events to show")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings resolves the settings file for the detected mode and loads it
// over the defaults. On error the defaults are returned with the error.
func loadSettings() (config.Settings, *infra.ExecModeConfig, string, error) {
	execMode := infra.DetectExecMode()
	path := configPath
	if path == "" {
		exe, _ := os.Executable()
		path = execMode.ConfigPath(exe)
	}
	settings, err := config.Load(path, config.Default(execMode.Dirs()))
	return settings, execMode, path, err
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	settings, execMode, path, loadErr := loadSettings()

	level := zapcore.InfoLevel
	if debugLogging {
		level = zapcore.DebugLevel
	}
	logger, logErr := infra.NewLogger(settings.Paths.Log, level)
	defer func() { _ = logger.Sync() }()
	if logErr != nil {
		logger.Warn("log file unavailable", zap.Error(logErr))
	}
	if loadErr != nil {
		logger.Error("failed to load settings, using defaults", zap.String("path", path), zap.Error(loadErr))
	}
	logger.Info("settings loaded",
		zap.String("path", path),
		zap.String("mode", string(execMode.Mode)),
		zap.String("version", Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history := openHistory(settings, logger)
	defer history.Close()

	// Infrastructure
	pm := infra.NewProcessManager()
	fs := infra.NewFileSystemManager()
	desktop := infra.NewDesktopShell(settings.Desktop.Command, logger)
	power := infra.NewPowerController(logger)
	for _, s := range power.Strategies() {
		logger.Debug("power strategy available", zap.String("strategy", s.Name()))
	}

	state := daemon.NewSupervisorState()
	dispatcher := usecase.NewDispatcher(
		usecase.DispatcherConfig{
			AllowShutdown: settings.Power.AllowShutdown,
			AllowReboot:   settings.Power.AllowReboot,
			Grace:         settings.Power.Grace(),
		},
		state,
		pm,
		desktop,
		power,
		history,
		logger,
	)

	var channel *daemon.Channel
	if settings.IPC.Enable {
		channel = daemon.NewChannel(
			daemon.ChannelConfig{
				Socket:      settings.IPC.Socket,
				ReadTimeout: settings.IPC.ReadTimeout(),
			},
			state,
			dispatcher,
			logger,
		)
	}

	gate := usecase.NewMaintenanceGate(
		usecase.GateConfig{
			Enabled: settings.Maintenance.Enable,
			Window:  settings.Maintenance.Window(),
			Hold:    settings.Maintenance.Hold(),
			HitBox: domain.HitBox{
				Corner: domain.Corner(settings.Maintenance.Corner),
				Size:   settings.Maintenance.CornerPx,
			},
		},
		infra.NewEvdevOverlayFactory(
			settings.Maintenance.InputDevices,
			settings.Maintenance.ScreenWidth,
			settings.Maintenance.ScreenHeight,
			logger,
		),
		clock.Real(),
		logger,
	)

	supervisor := daemon.NewSupervisor(
		daemon.SupervisorConfig{
			App: domain.LaunchSpec{
				Path:    settings.Paths.App,
				Args:    settings.Paths.AppArgs,
				WorkDir: settings.Paths.WorkDir,
			},
			FlagFile:     settings.Paths.Flag,
			OnAppExit:    settings.Behavior.OnAppExit,
			RestartDelay: settings.Behavior.RestartDelay(),
		},
		state,
		gate,
		channel,
		pm,
		fs,
		desktop,
		policy.NewRegistry(),
		history,
		clock.Real(),
		logger,
	)
	return supervisor.Run(ctx)
}

// openHistory opens the encrypted history, degrading to a no-op store.
func openHistory(settings config.Settings, logger *zap.Logger) domain.RunHistory {
	if !settings.History.Enable {
		return infra.NopHistory{}
	}
	h, err := infra.OpenHistory(settings.History.DataDir)
	if err != nil {
		logger.Warn("run history unavailable", zap.String("dir", settings.History.DataDir), zap.Error(err))
		return infra.NopHistory{}
	}
	logger.Debug("run history opened", zap.String("path", h.Path()))
	return h
}

func runSend(cmd *cobra.Command, args []string) error {
	socket := socketPath
	if socket == "" {
		settings, _, _, err := loadSettings()
		if err != nil {
			return err
		}
		socket = settings.IPC.Socket
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	if err := daemon.SendCommand(ctx, socket, args[0]); err != nil {
		return fmt.Errorf("kioskd is not accepting commands: %w", err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, execMode, path, err := loadSettings()
	if err != nil {
		return err
	}

	fmt.Printf("Execution mode: %s\n", execMode.Mode)
	fmt.Printf("Settings file: %s\n", path)
	if _, statErr := os.Stat(path); statErr != nil {
		fmt.Println("  (not found, using defaults)")
	}
	fmt.Println()

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	fmt.Print(string(out))

	registry := policy.NewRegistry()
	if _, known := registry.Resolve(settings.Behavior.OnAppExit); !known {
		fmt.Printf("\nWarning: unknown on_app_exit %q, the app exiting will stop the supervisor\n", settings.Behavior.OnAppExit)
	}

	fmt.Println("\nExit policies:")
	for _, p := range registry.GetAll() {
		fmt.Printf("  - %v: %s\n", p.Names(), p.Description())
	}

	fmt.Println("\nPower strategies:")
	for _, s := range infra.NewPowerController(zap.NewNop()).Strategies() {
		fmt.Printf("  - %s\n", s.Name())
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	settings, _, _, err := loadSettings()
	if err != nil {
		return err
	}
	if !settings.History.Enable {
		fmt.Println("Run history is disabled")
		return nil
	}

	h, err := infra.OpenHistory(settings.History.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer h.Close()

	events, err := h.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tRUN\tCODE\tDETAIL")
	for _, ev := range events {
		runID := ev.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			ev.At.Local().Format(time.DateTime), ev.Kind, runID, ev.ExitCode, ev.Detail)
	}
	return w.Flush()
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("kioskd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
