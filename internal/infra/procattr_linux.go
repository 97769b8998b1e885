package infra

import "syscall"

// appProcAttr puts the app in its own process group and asks the kernel to
// stop it if the supervisor dies.
func appProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
