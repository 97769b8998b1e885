// Package infra implements infrastructure concerns (process, power, input, storage).
package infra

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using os/exec for the
// managed app and gopsutil for its descendants.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Launch starts the app in its own process group. When WorkDir is empty the
// app runs from its own directory.
func (pm *ProcessManagerImpl) Launch(spec domain.LaunchSpec) (*domain.ProcessHandle, func() domain.ExitStatus, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(spec.Path)
	}
	cmd.SysProcAttr = appProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	done := make(chan struct{})
	handle := &domain.ProcessHandle{
		RunID:     uuid.NewString(),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Done:      done,
	}

	var (
		once   sync.Once
		status domain.ExitStatus
	)
	wait := func() domain.ExitStatus {
		once.Do(func() {
			status = exitStatus(cmd.Wait(), cmd.ProcessState)
			close(done)
		})
		return status
	}

	return handle, wait, nil
}

// Terminate signals the app's process group, then any descendants that left
// the group. force selects SIGKILL over SIGTERM.
func (pm *ProcessManagerImpl) Terminate(handle *domain.ProcessHandle, force bool) error {
	if handle == nil || handle.Exited() {
		return domain.ErrNoProcess
	}

	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}

	// Collect descendants first; once the group dies they are reparented.
	escaped := descendantsOutsideGroup(handle.PID)

	err := syscall.Kill(-handle.PID, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(handle.PID, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return domain.ErrNoProcess
	}

	for _, p := range escaped {
		_ = p.SendSignal(sig)
	}
	return err
}

// descendantsOutsideGroup walks the process tree below pid and returns the
// processes that moved to another process group (e.g. via setsid).
func descendantsOutsideGroup(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var out []*process.Process
	queue := []*process.Process{root}
	seen := map[int32]bool{root.Pid: true}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.Children()
		if err != nil {
			continue // no children or already gone
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			queue = append(queue, c)
			if pgid, err := syscall.Getpgid(int(c.Pid)); err == nil && pgid != pid {
				out = append(out, c)
			}
		}
	}
	return out
}

func exitStatus(waitErr error, state *os.ProcessState) domain.ExitStatus {
	status := domain.ExitStatus{Code: -1}
	if state != nil {
		status.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Code = -1
			status.Signal = ws.Signal().String()
		}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		status.Err = waitErr
	}
	return status
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
