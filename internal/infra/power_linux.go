package infra

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

func platformStrategies(runner CommandRunner) []domain.PowerStrategy {
	return []domain.PowerStrategy{
		NewSystemctlStrategy(runner),
		NewRebootSyscallStrategy(),
	}
}

// RebootSyscallStrategy raises CAP_SYS_BOOT on the calling thread and calls
// reboot(2) directly. It needs the capability in the permitted set, e.g.
// from a file capability or an ambient grant by the service manager.
type RebootSyscallStrategy struct {
	raised bool // CAP_SYS_BOOT was added to the effective set by Acquire
}

// NewRebootSyscallStrategy creates a reboot(2) strategy.
func NewRebootSyscallStrategy() *RebootSyscallStrategy {
	return &RebootSyscallStrategy{}
}

func (s *RebootSyscallStrategy) Name() string {
	return "reboot-syscall"
}

func (s *RebootSyscallStrategy) IsAvailable() bool {
	return true
}

// Acquire adds CAP_SYS_BOOT to the thread's effective set. The caller must
// have locked the OS thread.
func (s *RebootSyscallStrategy) Acquire(mode domain.PowerMode) error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capget: %w", err)
	}

	idx, bit := capIndex(unix.CAP_SYS_BOOT)
	if data[idx].Permitted&bit == 0 {
		return fmt.Errorf("CAP_SYS_BOOT not permitted: %w", domain.ErrPrivilege)
	}
	if data[idx].Effective&bit != 0 {
		return nil
	}

	data[idx].Effective |= bit
	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capset: %w", err)
	}
	s.raised = true
	return nil
}

// Release removes CAP_SYS_BOOT from the effective set if Acquire added it.
func (s *RebootSyscallStrategy) Release() error {
	if !s.raised {
		return nil
	}
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capget: %w", err)
	}
	idx, bit := capIndex(unix.CAP_SYS_BOOT)
	data[idx].Effective &^= bit
	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capset: %w", err)
	}
	s.raised = false
	return nil
}

// Transition flushes filesystems and reboots or powers off immediately.
func (s *RebootSyscallStrategy) Transition(mode domain.PowerMode) error {
	unix.Sync()
	return unix.Reboot(rebootCmd(mode))
}

func capIndex(capability int) (int, uint32) {
	return capability / 32, uint32(1) << (uint(capability) % 32)
}

func rebootCmd(mode domain.PowerMode) int {
	if mode == domain.PowerReboot {
		return unix.LINUX_REBOOT_CMD_RESTART
	}
	return unix.LINUX_REBOOT_CMD_POWER_OFF
}

// Ensure RebootSyscallStrategy implements domain.PowerStrategy.
var _ domain.PowerStrategy = (*RebootSyscallStrategy)(nil)
