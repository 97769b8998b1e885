package domain

import "context"

// ProcessManager handles the managed application's OS process.
// Implementation: os/exec for launching, gopsutil for descendant lookup.
type ProcessManager interface {
	// Launch starts the process. wait blocks until it exits and has been
	// reaped; it may be called once.
	Launch(spec LaunchSpec) (handle *ProcessHandle, wait func() ExitStatus, err error)

	// Terminate requests termination of the process and its descendants.
	// force selects SIGKILL instead of SIGTERM. Returns ErrNoProcess when
	// the handle has already exited.
	Terminate(handle *ProcessHandle, force bool) error
}

// ProcessObserver gives read-only access to the current managed process.
// The channel side only ever sees this view of the supervisor state.
type ProcessObserver interface {
	// Current returns the running process handle, or nil.
	Current() *ProcessHandle
}

// FileSystemManager handles filesystem checks.
type FileSystemManager interface {
	// IsFile reports whether path is an existing regular file. A missing
	// path is (false, nil); any other stat failure is returned.
	IsFile(path string) (bool, error)

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// DesktopShell presents the host's normal interactive desktop.
type DesktopShell interface {
	// Enter starts the desktop shell and returns without waiting for it.
	Enter(ctx context.Context) error
}

// PowerController performs privileged host power transitions.
type PowerController interface {
	// Request acquires the power privilege and issues the transition.
	// Under normal operation the host starts going down; an error means
	// the transition was refused or could not be issued.
	Request(ctx context.Context, mode PowerMode) error
}

// PowerStrategy is one way of performing a power transition.
// Implementations: logind via systemctl, reboot(2) with CAP_SYS_BOOT.
type PowerStrategy interface {
	// Name returns the strategy name (e.g., "systemctl", "reboot-syscall").
	Name() string

	// IsAvailable returns true if this strategy can be used on this system.
	IsAvailable() bool

	// Acquire obtains the privilege for mode. Must be called on the same
	// OS thread as Transition.
	Acquire(mode PowerMode) error

	// Transition issues the power request.
	Transition(mode PowerMode) error

	// Release undoes what Acquire changed on the calling thread so the
	// thread can be handed back to the runtime.
	Release() error
}

// Overlay is a transient, invisible pointer hit-box.
type Overlay interface {
	// Poll drains pending pointer events without blocking.
	Poll() []PointerEvent

	// Close removes the overlay.
	Close() error
}

// OverlayFactory creates overlays for the maintenance gate.
type OverlayFactory interface {
	// Open creates an overlay covering box. Returns ErrOverlayUnavailable
	// (possibly wrapped) when no input source can be used.
	Open(box HitBox) (Overlay, error)
}

// RunHistory persists supervision events for later inspection.
// Implementation: SQLCipher encrypted SQLite database.
type RunHistory interface {
	// Record appends an event.
	Record(ctx context.Context, event RunEvent) error

	// Recent returns up to n events, newest first.
	Recent(ctx context.Context, n int) ([]RunEvent, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the history encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
