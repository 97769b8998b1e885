//go:build !linux

package infra

import "syscall"

func appProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
