// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoProcess is returned when an operation needs the managed process
	// but none is running.
	ErrNoProcess = errors.New("no managed process running")

	// ErrPrivilege is returned when no power strategy could acquire the
	// privilege required for a power transition.
	ErrPrivilege = errors.New("power privilege not acquired")

	// ErrOverlayUnavailable is returned when no input overlay can be created.
	ErrOverlayUnavailable = errors.New("maintenance overlay unavailable")

	// ErrAppNotFound is returned when the managed application path does not exist.
	ErrAppNotFound = errors.New("managed app path not found")
)

// Command is a request read from the command channel.
type Command string

const (
	CommandNoop        Command = "noop"
	CommandMaintenance Command = "maintenance"
	CommandShutdown    Command = "shutdown"
	CommandReboot      Command = "reboot"
	CommandExitApp     Command = "exitapp"
)

// ParseCommand decodes raw channel text. Surrounding whitespace is trimmed and
// matching is case-insensitive. ok is false for anything unrecognized.
func ParseCommand(raw string) (cmd Command, ok bool) {
	switch c := Command(strings.ToLower(strings.TrimSpace(raw))); c {
	case CommandNoop, CommandMaintenance, CommandShutdown, CommandReboot, CommandExitApp:
		return c, true
	default:
		return "", false
	}
}

// MaintenanceOutcome is the terminal result of one maintenance gate run.
type MaintenanceOutcome int

const (
	MaintenanceNotTriggered MaintenanceOutcome = iota
	MaintenanceTriggered
)

func (o MaintenanceOutcome) String() string {
	if o == MaintenanceTriggered {
		return "triggered"
	}
	return "not-triggered"
}

// ExitAction is what the supervisor does after the managed process exits.
type ExitAction string

const (
	ExitRestart      ExitAction = "restart"
	ExitEnterDesktop ExitAction = "enter-desktop"
	ExitQuit         ExitAction = "exit"
)

// PowerMode selects the host power transition.
type PowerMode string

const (
	PowerShutdown PowerMode = "shutdown"
	PowerReboot   PowerMode = "reboot"
)

// Corner names a screen corner for the maintenance hit-box.
type Corner string

const (
	CornerTopLeft     Corner = "top-left"
	CornerTopRight    Corner = "top-right"
	CornerBottomLeft  Corner = "bottom-left"
	CornerBottomRight Corner = "bottom-right"
)

// HitBox is the square, invisible region that must be pressed and held.
type HitBox struct {
	Corner Corner
	Size   int // edge length in screen pixels
}

// PointerKind classifies a pointer event delivered by an overlay.
type PointerKind int

const (
	PointerPress       PointerKind = iota // press inside the hit-box
	PointerRelease                        // press released anywhere
	PointerCaptureLost                    // input capture interrupted (treated as release)
)

// PointerEvent is one input event seen by the overlay.
type PointerEvent struct {
	Kind PointerKind
	At   time.Time
}

// LaunchSpec describes how to start the managed application.
type LaunchSpec struct {
	Path    string
	Args    []string
	WorkDir string
}

// ProcessHandle identifies a running managed process.
// Done is closed once the supervisor has reaped the process; after that the
// handle must not be used to signal anything.
type ProcessHandle struct {
	RunID     string
	PID       int
	StartedAt time.Time
	Done      <-chan struct{}
}

// Exited reports whether the process has already been reaped.
func (h *ProcessHandle) Exited() bool {
	select {
	case <-h.Done:
		return true
	default:
		return false
	}
}

// ExitStatus is the informational result of waiting on the managed process.
type ExitStatus struct {
	Code   int    // -1 when killed by a signal or unknown
	Signal string // signal name when killed by a signal
	Err    error  // wait error other than a non-zero exit
}

// RunEventKind classifies a supervision history entry.
type RunEventKind string

const (
	EventLaunch      RunEventKind = "launch"
	EventExit        RunEventKind = "exit"
	EventCommand     RunEventKind = "command"
	EventPower       RunEventKind = "power"
	EventMaintenance RunEventKind = "maintenance"
	EventDesktop     RunEventKind = "desktop"
)

// RunEvent is one row of supervision history.
type RunEvent struct {
	RunID    string
	Kind     RunEventKind
	Detail   string
	ExitCode int
	At       time.Time
}
