package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DispatcherConfig holds command dispatch configuration.
type DispatcherConfig struct {
	AllowShutdown bool
	AllowReboot   bool
	Grace         time.Duration // wait for the managed app before a power action; 0 skips termination
}

// Dispatcher executes commands received over the command channel.
// It never returns errors: every outcome is logged and recorded.
type Dispatcher struct {
	config         DispatcherConfig
	observer       domain.ProcessObserver
	processManager domain.ProcessManager
	desktop        domain.DesktopShell
	power          domain.PowerController
	history        domain.RunHistory
	logger         *zap.Logger
}

// NewDispatcher creates a new command dispatcher.
func NewDispatcher(
	config DispatcherConfig,
	observer domain.ProcessObserver,
	pm domain.ProcessManager,
	desktop domain.DesktopShell,
	power domain.PowerController,
	history domain.RunHistory,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		config:         config,
		observer:       observer,
		processManager: pm,
		desktop:        desktop,
		power:          power,
		history:        history,
		logger:         logger,
	}
}

// Dispatch decodes raw and runs the command to completion, including any
// power action. Unrecognized text is logged verbatim and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string) {
	cmd, ok := domain.ParseCommand(raw)
	if !ok {
		if raw != "" {
			d.logger.Info("ignoring unrecognized command", zap.String("cmd", raw))
		}
		return
	}
	d.logger.Info("command received", zap.String("cmd", string(cmd)))
	if cmd != domain.CommandNoop {
		d.record(ctx, domain.RunEvent{Kind: domain.EventCommand, Detail: string(cmd)})
	}

	switch cmd {
	case domain.CommandNoop:
		// Only used to wake the channel.
	case domain.CommandMaintenance:
		d.enterDesktop(ctx)
	case domain.CommandShutdown:
		d.powerAction(ctx, domain.PowerShutdown, d.config.AllowShutdown)
	case domain.CommandReboot:
		d.powerAction(ctx, domain.PowerReboot, d.config.AllowReboot)
	case domain.CommandExitApp:
		d.exitApp()
	}
}

func (d *Dispatcher) enterDesktop(ctx context.Context) {
	if err := d.desktop.Enter(ctx); err != nil {
		d.logger.Error("failed to enter desktop", zap.Error(err))
		return
	}
	d.record(ctx, domain.RunEvent{Kind: domain.EventDesktop, Detail: "maintenance command"})
}

// powerAction stops the managed app (bounded by the grace period) and asks
// the power controller for the transition.
func (d *Dispatcher) powerAction(ctx context.Context, mode domain.PowerMode, allowed bool) {
	if !allowed {
		d.logger.Info("power command denied by config", zap.String("mode", string(mode)))
		return
	}

	if handle := d.observer.Current(); handle != nil && d.config.Grace > 0 {
		d.stopForPower(handle)
	}

	d.logger.Info("requesting power action", zap.String("mode", string(mode)))
	if err := d.power.Request(ctx, mode); err != nil {
		d.logger.Error("power action failed", zap.String("mode", string(mode)), zap.Error(err))
		d.record(ctx, domain.RunEvent{Kind: domain.EventPower, Detail: string(mode) + " failed: " + err.Error()})
		return
	}
	d.record(ctx, domain.RunEvent{Kind: domain.EventPower, Detail: string(mode)})
}

// stopForPower sends SIGTERM, waits up to the grace period for the
// supervisor to reap the process, then kills whatever is left.
func (d *Dispatcher) stopForPower(handle *domain.ProcessHandle) {
	d.logger.Info("terminating managed app before power action",
		zap.Int("pid", handle.PID),
		zap.Duration("grace", d.config.Grace))

	if err := d.processManager.Terminate(handle, false); err != nil {
		if errors.Is(err, domain.ErrNoProcess) {
			return
		}
		d.logger.Warn("failed to terminate managed app", zap.Error(err))
	}

	timer := time.NewTimer(d.config.Grace)
	defer timer.Stop()
	select {
	case <-handle.Done:
		return
	case <-timer.C:
	}

	d.logger.Warn("managed app still running after grace period, killing", zap.Int("pid", handle.PID))
	if err := d.processManager.Terminate(handle, true); err != nil && !errors.Is(err, domain.ErrNoProcess) {
		d.logger.Warn("failed to kill managed app", zap.Error(err))
	}
}

// exitApp force-terminates the managed app; the supervisor's exit policy
// decides what happens next.
func (d *Dispatcher) exitApp() {
	handle := d.observer.Current()
	if handle == nil {
		d.logger.Info("exitapp: no managed app running")
		return
	}

	d.logger.Info("exitapp: terminating managed app", zap.Int("pid", handle.PID))
	if err := d.processManager.Terminate(handle, true); err != nil {
		if errors.Is(err, domain.ErrNoProcess) {
			d.logger.Info("exitapp: managed app already exited", zap.Int("pid", handle.PID))
			return
		}
		d.logger.Warn("exitapp: failed to terminate managed app", zap.Error(err))
	}
}

func (d *Dispatcher) record(ctx context.Context, event domain.RunEvent) {
	if d.history == nil {
		return
	}
	if handle := d.observer.Current(); handle != nil && event.RunID == "" {
		event.RunID = handle.RunID
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := d.history.Record(ctx, event); err != nil {
		d.logger.Debug("failed to record history event", zap.Error(err))
	}
}
