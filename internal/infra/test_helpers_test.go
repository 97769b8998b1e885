package infra

import (
	"strings"
	"sync"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// mockCommandRunner records commands and returns canned output keyed by the
// joined argv.
type mockCommandRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	ran     []string
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (m *mockCommandRunner) key(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	k := m.key(name, args)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, k)
	return m.errs[k]
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	k := m.key(name, args)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, k)
	return []byte(m.outputs[k]), m.errs[k]
}

// mockPowerStrategy is a test double for domain.PowerStrategy
type mockPowerStrategy struct {
	name          string
	available     bool
	acquireErr    error
	transitionErr error
	releaseErr    error
	calls         *[]string
	threads       *[]int
}

func (m *mockPowerStrategy) Name() string      { return m.name }
func (m *mockPowerStrategy) IsAvailable() bool { return m.available }

func (m *mockPowerStrategy) Acquire(mode domain.PowerMode) error {
	m.record("acquire", mode)
	return m.acquireErr
}

func (m *mockPowerStrategy) Transition(mode domain.PowerMode) error {
	m.record("transition", mode)
	return m.transitionErr
}

func (m *mockPowerStrategy) Release() error {
	m.record("release", "")
	return m.releaseErr
}

func (m *mockPowerStrategy) record(op string, mode domain.PowerMode) {
	if m.calls != nil {
		entry := m.name + ":" + op
		if mode != "" {
			entry += ":" + string(mode)
		}
		*m.calls = append(*m.calls, entry)
	}
	if m.threads != nil {
		*m.threads = append(*m.threads, currentThreadID())
	}
}

// Ensure mockPowerStrategy implements domain.PowerStrategy
var _ domain.PowerStrategy = (*mockPowerStrategy)(nil)
