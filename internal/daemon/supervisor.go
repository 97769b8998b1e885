package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/clock"
	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/policy"
)

const (
	// DefaultJoinWait bounds how long shutdown waits for the channel to stop
	// after the wake.
	DefaultJoinWait = 200 * time.Millisecond

	// DefaultStopTimeout bounds how long a canceled supervisor waits for the
	// app to exit after SIGTERM before killing it.
	DefaultStopTimeout = 5 * time.Second
)

// MaintenanceGate runs the boot-time maintenance check.
type MaintenanceGate interface {
	Run(ctx context.Context) domain.MaintenanceOutcome
}

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	App          domain.LaunchSpec
	FlagFile     string // maintenance flag file; empty disables the check
	OnAppExit    string // exit policy name
	RestartDelay time.Duration
	JoinWait     time.Duration
	StopTimeout  time.Duration
}

// Supervisor owns the managed app's lifecycle and the startup and shutdown
// sequence around it.
type Supervisor struct {
	config         SupervisorConfig
	state          *SupervisorState
	gate           MaintenanceGate
	channel        *Channel // nil when the command channel is disabled
	processManager domain.ProcessManager
	fsManager      domain.FileSystemManager
	desktop        domain.DesktopShell
	policies       *policy.Registry
	history        domain.RunHistory
	clock          clock.Clock
	logger         *zap.Logger
}

// NewSupervisor creates a new supervisor. gate and channel may be nil.
func NewSupervisor(
	config SupervisorConfig,
	state *SupervisorState,
	gate MaintenanceGate,
	channel *Channel,
	pm domain.ProcessManager,
	fs domain.FileSystemManager,
	desktop domain.DesktopShell,
	policies *policy.Registry,
	history domain.RunHistory,
	clk clock.Clock,
	logger *zap.Logger,
) *Supervisor {
	if config.JoinWait <= 0 {
		config.JoinWait = DefaultJoinWait
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		config:         config,
		state:          state,
		gate:           gate,
		channel:        channel,
		processManager: pm,
		fsManager:      fs,
		desktop:        desktop,
		policies:       policies,
		history:        history,
		clock:          clk,
		logger:         logger,
	}
}

// Run executes the startup sequence and the supervision loop. It returns
// once the loop has stopped and the command channel has been shut down.
// Canceling ctx stops the managed app and the loop without entering the
// desktop.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("started", zap.String("app", s.config.App.Path))
	defer s.logger.Info("exit")

	if s.flagFilePresent() {
		s.enterDesktop(ctx, "maintenance flag file present")
		return nil
	}

	if s.gate != nil && s.gate.Run(ctx) == domain.MaintenanceTriggered {
		s.record(ctx, domain.RunEvent{Kind: domain.EventMaintenance, Detail: "corner hold"})
		s.enterDesktop(ctx, "maintenance gate triggered")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	if s.channel != nil {
		serveCtx, cancel := context.WithCancel(ctx)
		go s.channel.Serve(serveCtx)
		defer s.stopChannel(cancel)
	}

	s.supervise(ctx)
	return nil
}

// flagFilePresent reports whether boot should go straight to the desktop.
// A failing check is treated like a present flag.
func (s *Supervisor) flagFilePresent() bool {
	if s.config.FlagFile == "" {
		return false
	}
	present, err := s.fsManager.IsFile(s.config.FlagFile)
	if err != nil {
		s.logger.Error("failed to check maintenance flag file",
			zap.String("path", s.config.FlagFile),
			zap.Error(err))
		return true
	}
	if present {
		s.logger.Info("maintenance flag file found", zap.String("path", s.config.FlagFile))
	}
	return present
}

// supervise launches the app and applies the exit policy until the policy
// or a failure stops the loop.
func (s *Supervisor) supervise(ctx context.Context) {
	exitPolicy, known := s.policies.Resolve(s.config.OnAppExit)
	if !known {
		s.logger.Warn("unknown exit policy, using default",
			zap.String("policy", s.config.OnAppExit),
			zap.String("default", string(exitPolicy.Action())))
	}

	for ctx.Err() == nil {
		found, err := s.fsManager.IsFile(s.config.App.Path)
		if err != nil || !found {
			s.logger.Error("AppPath not found",
				zap.String("path", s.config.App.Path),
				zap.NamedError("cause", err),
				zap.Error(domain.ErrAppNotFound))
			s.enterDesktop(ctx, "app path not found")
			return
		}

		handle, wait, err := s.processManager.Launch(s.config.App)
		if err != nil {
			s.logger.Error("failed to launch app", zap.String("path", s.config.App.Path), zap.Error(err))
			s.enterDesktop(ctx, "launch failed")
			return
		}

		s.state.Publish(handle)
		s.logger.Info("app launched", zap.Int("pid", handle.PID), zap.String("run_id", handle.RunID))
		s.record(ctx, domain.RunEvent{RunID: handle.RunID, Kind: domain.EventLaunch, Detail: s.config.App.Path})

		status := s.waitExit(ctx, handle, wait)
		s.state.Clear()

		s.logExit(handle, status)
		s.record(ctx, domain.RunEvent{
			RunID:    handle.RunID,
			Kind:     domain.EventExit,
			Detail:   exitDetail(status),
			ExitCode: status.Code,
		})

		if ctx.Err() != nil {
			return
		}

		switch exitPolicy.Action() {
		case domain.ExitRestart:
			if !s.pause(ctx, s.config.RestartDelay) {
				return
			}
		case domain.ExitEnterDesktop:
			s.enterDesktop(ctx, "app exited")
			return
		default:
			return
		}
	}
}

// waitExit blocks until the app has been reaped. When ctx is canceled first
// the app is asked to stop, and killed after StopTimeout.
func (s *Supervisor) waitExit(ctx context.Context, handle *domain.ProcessHandle, wait func() domain.ExitStatus) domain.ExitStatus {
	statusCh := make(chan domain.ExitStatus, 1)
	go func() { statusCh <- wait() }()

	select {
	case status := <-statusCh:
		return status
	case <-ctx.Done():
	}

	s.logger.Info("supervisor stopping, terminating app", zap.Int("pid", handle.PID))
	if err := s.processManager.Terminate(handle, false); err != nil {
		s.logger.Debug("terminate failed", zap.Error(err))
	}

	select {
	case status := <-statusCh:
		return status
	case <-s.clock.After(s.config.StopTimeout):
	}

	s.logger.Warn("app ignored SIGTERM, killing", zap.Int("pid", handle.PID))
	if err := s.processManager.Terminate(handle, true); err != nil {
		s.logger.Debug("kill failed", zap.Error(err))
	}
	return <-statusCh
}

func (s *Supervisor) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

// stopChannel clears liveness, wakes the channel once, waits briefly for it
// and then cancels it, closing the listener.
func (s *Supervisor) stopChannel(cancel context.CancelFunc) {
	defer cancel()

	s.state.StopServing()
	s.channel.Wake()

	t := time.NewTimer(s.config.JoinWait)
	defer t.Stop()
	select {
	case <-s.channel.Done():
	case <-t.C:
		s.logger.Debug("command channel still running after wake")
	}
}

func (s *Supervisor) enterDesktop(ctx context.Context, reason string) {
	s.logger.Info("entering desktop", zap.String("reason", reason))
	if err := s.desktop.Enter(ctx); err != nil {
		s.logger.Error("failed to enter desktop", zap.Error(err))
		return
	}
	s.record(ctx, domain.RunEvent{Kind: domain.EventDesktop, Detail: reason})
}

func (s *Supervisor) logExit(handle *domain.ProcessHandle, status domain.ExitStatus) {
	fields := []zap.Field{
		zap.Int("pid", handle.PID),
		zap.String("run_id", handle.RunID),
		zap.Int("code", status.Code),
		zap.Duration("uptime", time.Since(handle.StartedAt)),
	}
	if status.Signal != "" {
		fields = append(fields, zap.String("signal", status.Signal))
	}
	if status.Err != nil {
		fields = append(fields, zap.Error(status.Err))
	}
	s.logger.Info("app exited", fields...)
}

func (s *Supervisor) record(ctx context.Context, event domain.RunEvent) {
	if s.history == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	// History is best effort and must not block shutdown on a canceled ctx.
	if err := s.history.Record(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Debug("failed to record history event", zap.Error(err))
	}
}

func exitDetail(status domain.ExitStatus) string {
	switch {
	case status.Signal != "":
		return "signal " + status.Signal
	case status.Err != nil:
		return status.Err.Error()
	default:
		return "exited"
	}
}
