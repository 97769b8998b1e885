// Package policy resolves the configured exit policy: what the supervisor
// does each time the managed application exits.
package policy

import (
	"github.com/eliteGoblin/kioskd/internal/domain"
)

// ExitPolicy describes one exit behavior and the names that select it.
type ExitPolicy interface {
	// Action returns the supervisor action.
	Action() domain.ExitAction

	// Names returns the configuration values selecting this policy.
	// Matching is case-insensitive.
	Names() []string

	// Description returns human-readable text for the check command.
	Description() string
}

type exitPolicy struct {
	action      domain.ExitAction
	names       []string
	description string
}

func (p exitPolicy) Action() domain.ExitAction { return p.action }
func (p exitPolicy) Names() []string           { return p.names }
func (p exitPolicy) Description() string       { return p.description }

// NewRestartPolicy relaunches the app after a short pause.
func NewRestartPolicy() ExitPolicy {
	return exitPolicy{
		action:      domain.ExitRestart,
		names:       []string{"restart"},
		description: "relaunch the app after a short pause",
	}
}

// NewEnterDesktopPolicy stops supervising and starts the desktop shell.
// "explorer" is accepted for configurations carried over from older launchers.
func NewEnterDesktopPolicy() ExitPolicy {
	return exitPolicy{
		action:      domain.ExitEnterDesktop,
		names:       []string{"enter-desktop", "desktop", "explorer"},
		description: "stop supervising and enter the desktop",
	}
}

// NewExitPolicy stops supervising with no further action.
func NewExitPolicy() ExitPolicy {
	return exitPolicy{
		action:      domain.ExitQuit,
		names:       []string{"exit"},
		description: "stop supervising, take no further action",
	}
}
