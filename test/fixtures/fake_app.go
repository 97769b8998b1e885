// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FakeApp is a shell-script stand-in for the managed kiosk app. Every launch
// appends its PID to a launch log; a SIGTERM is noted in a separate log.
type FakeApp struct {
	Dir string
}

// NewFakeApp creates a fake app rooted in dir.
func NewFakeApp(dir string) *FakeApp {
	return &FakeApp{Dir: dir}
}

// Path returns the executable path.
func (f *FakeApp) Path() string { return filepath.Join(f.Dir, "kiosk-app") }

// LaunchLog returns the file each launch appends its PID to.
func (f *FakeApp) LaunchLog() string { return filepath.Join(f.Dir, "launches") }

// TermLog returns the file written when the app receives SIGTERM.
func (f *FakeApp) TermLog() string { return filepath.Join(f.Dir, "terminated") }

// CreateExiting writes an app that exits immediately with code.
func (f *FakeApp) CreateExiting(code int) error {
	return f.write(fmt.Sprintf("exit %d\n", code))
}

// CreateLongRunning writes an app that runs until it is signaled and exits
// cleanly on SIGTERM.
func (f *FakeApp) CreateLongRunning() error {
	return f.write(fmt.Sprintf("trap 'echo term >> %q; exit 0' TERM\nwhile :; do sleep 0.05; done\n", f.TermLog()))
}

func (f *FakeApp) write(body string) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	script := fmt.Sprintf("#!/bin/sh\necho $$ >> %q\n%s", f.LaunchLog(), body)
	return os.WriteFile(f.Path(), []byte(script), 0o755)
}

// Launches returns how many times the app has started.
func (f *FakeApp) Launches() int {
	return countLines(f.LaunchLog())
}

// Terminated reports whether the app has received SIGTERM.
func (f *FakeApp) Terminated() bool {
	return countLines(f.TermLog()) > 0
}

// FakeDesktop is a desktop command that appends a line per entry.
type FakeDesktop struct {
	Log string
}

// NewFakeDesktop creates a fake desktop logging to dir.
func NewFakeDesktop(dir string) *FakeDesktop {
	return &FakeDesktop{Log: filepath.Join(dir, "desktop")}
}

// Command returns the argv to configure as the desktop shell.
func (d *FakeDesktop) Command() []string {
	return []string{"/bin/sh", "-c", fmt.Sprintf("echo entered >> %q", d.Log)}
}

// Entries returns how many times the desktop has been entered.
func (d *FakeDesktop) Entries() int {
	return countLines(d.Log)
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		if strings.TrimSpace(s.Text()) != "" {
			n++
		}
	}
	return n
}
