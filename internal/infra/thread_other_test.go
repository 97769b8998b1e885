//go:build !linux

package infra

func currentThreadID() int { return 0 }
