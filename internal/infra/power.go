package infra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// PowerControllerImpl tries each available strategy in order until one
// acquires the power privilege, then issues the transition with it.
type PowerControllerImpl struct {
	mu         sync.Mutex // one request at a time
	strategies []domain.PowerStrategy
	logger     *zap.Logger
}

// NewPowerController creates a controller with all strategies available on
// this platform.
func NewPowerController(logger *zap.Logger) *PowerControllerImpl {
	return NewPowerControllerWithStrategies(logger, platformStrategies(&RealCommandRunner{})...)
}

// NewPowerControllerWithStrategies creates a controller with custom
// strategies (for testing). Unavailable strategies are dropped.
func NewPowerControllerWithStrategies(logger *zap.Logger, strategies ...domain.PowerStrategy) *PowerControllerImpl {
	pc := &PowerControllerImpl{logger: logger}
	for _, s := range strategies {
		if s.IsAvailable() {
			pc.strategies = append(pc.strategies, s)
		}
	}
	return pc
}

// Strategies returns the strategies in the order they are tried.
func (pc *PowerControllerImpl) Strategies() []domain.PowerStrategy {
	return pc.strategies
}

// Request acquires the privilege and issues the transition. Returns
// domain.ErrPrivilege, without attempting any transition, when no strategy
// acquires it.
func (pc *PowerControllerImpl) Request(ctx context.Context, mode domain.PowerMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		// Capabilities are per thread. A thread that still holds a raised
		// privilege stays locked and exits with this goroutine; a thread
		// exit delivers the app's Pdeathsig if that thread forked it.
		runtime.LockOSThread()
		clean, err := pc.request(mode)
		if clean {
			runtime.UnlockOSThread()
		}
		errCh <- err
	}()
	return <-errCh
}

// request runs on a locked thread. clean reports whether the thread's
// privileges are back to their original state.
func (pc *PowerControllerImpl) request(mode domain.PowerMode) (clean bool, err error) {
	var chosen domain.PowerStrategy
	for _, s := range pc.strategies {
		if err := s.Acquire(mode); err != nil {
			pc.logger.Info("power privilege not acquired",
				zap.String("strategy", s.Name()),
				zap.String("mode", string(mode)),
				zap.Error(err))
			continue
		}
		chosen = s
		break
	}

	if chosen == nil {
		pc.logger.Error("no strategy acquired power privilege", zap.String("mode", string(mode)))
		return true, domain.ErrPrivilege
	}

	pc.logger.Info("issuing power transition",
		zap.String("strategy", chosen.Name()),
		zap.String("mode", string(mode)))
	err = chosen.Transition(mode)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", chosen.Name(), mode, err)
	}

	if relErr := chosen.Release(); relErr != nil {
		pc.logger.Warn("failed to drop power privilege",
			zap.String("strategy", chosen.Name()),
			zap.Error(relErr))
		return false, err
	}
	return true, err
}

// logind D-Bus coordinates used to check power privilege.
const (
	logindDest    = "org.freedesktop.login1"
	logindPath    = "/org/freedesktop/login1"
	logindIface   = "org.freedesktop.login1.Manager"
	systemdRunDir = "/run/systemd/system"
)

// SystemctlStrategy asks systemd-logind for the transition. Polkit decides
// whether the supervisor's user may power off or reboot.
type SystemctlStrategy struct {
	systemctlPath string
	busctlPath    string
	runner        CommandRunner
	booted        func() bool
}

// NewSystemctlStrategy creates a systemctl strategy.
func NewSystemctlStrategy(runner CommandRunner) *SystemctlStrategy {
	systemctl, _ := exec.LookPath("systemctl")
	busctl, _ := exec.LookPath("busctl")
	return &SystemctlStrategy{
		systemctlPath: systemctl,
		busctlPath:    busctl,
		runner:        runner,
		booted: func() bool {
			_, err := os.Stat(systemdRunDir)
			return err == nil
		},
	}
}

func (s *SystemctlStrategy) Name() string {
	return "systemctl"
}

// IsAvailable reports whether the host was booted with systemd.
func (s *SystemctlStrategy) IsAvailable() bool {
	return s.systemctlPath != "" && s.busctlPath != "" && s.booted()
}

// Acquire asks logind whether the transition is allowed without
// interactive authentication.
func (s *SystemctlStrategy) Acquire(mode domain.PowerMode) error {
	method := "CanPowerOff"
	if mode == domain.PowerReboot {
		method = "CanReboot"
	}

	out, err := s.runner.Output(s.busctlPath, "call", logindDest, logindPath, logindIface, method)
	if err != nil {
		return fmt.Errorf("busctl %s: %w", method, err)
	}

	// Reply looks like: s "yes"
	answer := strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(out)), "s ")), `"`)
	if answer != "yes" {
		return fmt.Errorf("logind %s: %s: %w", method, answer, domain.ErrPrivilege)
	}
	return nil
}

// Transition runs systemctl poweroff or reboot.
func (s *SystemctlStrategy) Transition(mode domain.PowerMode) error {
	verb := "poweroff"
	if mode == domain.PowerReboot {
		verb = "reboot"
	}
	return s.runner.Run(s.systemctlPath, verb)
}

// Release is a no-op: polkit decides per call and nothing is held.
func (s *SystemctlStrategy) Release() error {
	return nil
}

// Ensure implementations satisfy interfaces
var _ domain.PowerController = (*PowerControllerImpl)(nil)
var _ domain.PowerStrategy = (*SystemctlStrategy)(nil)
