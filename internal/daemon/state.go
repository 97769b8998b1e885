// Package daemon implements the supervisor and its command channel.
package daemon

import (
	"sync"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// SupervisorState is shared between the supervision loop and the command
// channel. Only the supervisor publishes and clears the handle; the channel
// reads it through domain.ProcessObserver. The lock is never held across a
// blocking call.
type SupervisorState struct {
	mu      sync.Mutex
	handle  *domain.ProcessHandle
	serving bool
}

// NewSupervisorState returns state with serving enabled and no process.
func NewSupervisorState() *SupervisorState {
	return &SupervisorState{serving: true}
}

// Publish records the freshly launched process.
func (s *SupervisorState) Publish(h *domain.ProcessHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// Clear drops the handle after the supervisor has reaped the process.
func (s *SupervisorState) Clear() {
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
}

// Current returns the running process handle, or nil.
func (s *SupervisorState) Current() *domain.ProcessHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && s.handle.Exited() {
		return nil
	}
	return s.handle
}

// Serving reports whether the channel should keep accepting commands.
func (s *SupervisorState) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving
}

// StopServing clears the liveness flag.
func (s *SupervisorState) StopServing() {
	s.mu.Lock()
	s.serving = false
	s.mu.Unlock()
}
