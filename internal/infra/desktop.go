package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DesktopShellImpl starts the host desktop session as a detached process.
type DesktopShellImpl struct {
	command []string
	logger  *zap.Logger
}

// NewDesktopShell creates a desktop shell that runs command (argv form).
func NewDesktopShell(command []string, logger *zap.Logger) *DesktopShellImpl {
	return &DesktopShellImpl{
		command: append([]string(nil), command...),
		logger:  logger,
	}
}

// Enter starts the desktop command in a new session and returns without
// waiting for it. The supervisor may exit afterwards; the desktop keeps
// running.
func (d *DesktopShellImpl) Enter(ctx context.Context) error {
	if len(d.command) == 0 {
		return errors.New("no desktop command configured")
	}

	cmd := exec.Command(d.command[0], d.command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start desktop %s: %w", d.command[0], err)
	}
	d.logger.Info("desktop started", zap.Strings("command", d.command), zap.Int("pid", cmd.Process.Pid))

	// Reap it if it exits while we are still alive.
	go func() { _ = cmd.Wait() }()
	return nil
}

// Ensure DesktopShellImpl implements domain.DesktopShell.
var _ domain.DesktopShell = (*DesktopShellImpl)(nil)
