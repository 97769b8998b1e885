//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/clock"
	"github.com/eliteGoblin/kioskd/internal/daemon"
	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/infra"
	"github.com/eliteGoblin/kioskd/internal/policy"
	"github.com/eliteGoblin/kioskd/internal/usecase"
	"github.com/eliteGoblin/kioskd/test/fixtures"
)

// recordingStrategy stands in for the host power path.
type recordingStrategy struct {
	mu             sync.Mutex
	modes          []domain.PowerMode
	appTerminated  []bool
	terminatedFunc func() bool
}

func (s *recordingStrategy) Name() string                   { return "recording" }
func (s *recordingStrategy) IsAvailable() bool              { return true }
func (s *recordingStrategy) Acquire(domain.PowerMode) error { return nil }
func (s *recordingStrategy) Release() error                 { return nil }

func (s *recordingStrategy) Transition(mode domain.PowerMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, mode)
	s.appTerminated = append(s.appTerminated, s.terminatedFunc())
	return nil
}

func (s *recordingStrategy) Modes() []domain.PowerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PowerMode(nil), s.modes...)
}

// countingGate records whether the boot gate ran.
type countingGate struct {
	runs    atomic.Int32
	outcome domain.MaintenanceOutcome
}

func (g *countingGate) Run(ctx context.Context) domain.MaintenanceOutcome {
	g.runs.Add(1)
	return g.outcome
}

var _ = Describe("Supervisor", func() {
	var (
		tmpDir   string
		app      *fixtures.FakeApp
		desktop  *fixtures.FakeDesktop
		gate     *countingGate
		strategy *recordingStrategy
		history  *infra.EncryptedHistory
		socket   string
		logger   *zap.Logger
	)

	BeforeEach(func() {
		var err error
		// Short path: sun_path is limited to ~108 bytes.
		tmpDir, err = os.MkdirTemp("", "kd-it")
		Expect(err).NotTo(HaveOccurred())

		app = fixtures.NewFakeApp(filepath.Join(tmpDir, "app"))
		desktop = fixtures.NewFakeDesktop(tmpDir)
		gate = &countingGate{outcome: domain.MaintenanceNotTriggered}
		strategy = &recordingStrategy{terminatedFunc: app.Terminated}
		socket = filepath.Join(tmpDir, "k.sock")
		logger = zap.NewNop()

		history, err = infra.OpenHistory(filepath.Join(tmpDir, "data"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		history.Close()
		os.RemoveAll(tmpDir)
	})

	// build wires the real components the way the run command does, with a
	// recording power strategy.
	build := func(onAppExit string, restartDelay time.Duration, flagFile string) *daemon.Supervisor {
		pm := infra.NewProcessManager()
		state := daemon.NewSupervisorState()
		shell := infra.NewDesktopShell(desktop.Command(), logger)
		power := infra.NewPowerControllerWithStrategies(logger, strategy)

		dispatcher := usecase.NewDispatcher(
			usecase.DispatcherConfig{AllowShutdown: true, AllowReboot: true, Grace: 2 * time.Second},
			state, pm, shell, power, history, logger,
		)
		channel := daemon.NewChannel(daemon.ChannelConfig{Socket: socket, ReadTimeout: time.Second}, state, dispatcher, logger)

		return daemon.NewSupervisor(
			daemon.SupervisorConfig{
				App:          domain.LaunchSpec{Path: app.Path(), WorkDir: app.Dir},
				FlagFile:     flagFile,
				OnAppExit:    onAppExit,
				RestartDelay: restartDelay,
			},
			state, gate, channel, pm, infra.NewFileSystemManager(), shell,
			policy.NewRegistry(), history, clock.Real(), logger,
		)
	}

	start := func(s *daemon.Supervisor) (context.CancelFunc, <-chan struct{}) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer GinkgoRecover()
			Expect(s.Run(ctx)).To(Succeed())
		}()
		return cancel, done
	}

	send := func(command string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return daemon.SendCommand(ctx, socket, command)
	}

	Context("when the maintenance flag file is present", func() {
		It("should enter the desktop without running the gate or the app", func() {
			Expect(app.CreateLongRunning()).To(Succeed())
			flag := filepath.Join(tmpDir, "maintenance.flag")
			Expect(os.WriteFile(flag, nil, 0o644)).To(Succeed())

			cancel, done := start(build("restart", 0, flag))
			defer cancel()

			Eventually(done, 5*time.Second).Should(BeClosed())
			Eventually(desktop.Entries, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
			Expect(gate.runs.Load()).To(BeZero())
			Expect(app.Launches()).To(BeZero())
			_, err := os.Stat(socket)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Context("when the exit policy is restart", func() {
		It("should relaunch the app after each exit until canceled", func() {
			Expect(app.CreateExiting(3)).To(Succeed())

			cancel, done := start(build("restart", 50*time.Millisecond, ""))

			Eventually(app.Launches, 5*time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 3))
			Consistently(done, 100*time.Millisecond).ShouldNot(BeClosed())

			cancel()
			Eventually(done, 5*time.Second).Should(BeClosed())
			Expect(desktop.Entries()).To(BeZero())
			Expect(gate.runs.Load()).To(Equal(int32(1)))

			events, err := history.Recent(context.Background(), 100)
			Expect(err).NotTo(HaveOccurred())
			kinds := map[domain.RunEventKind]int{}
			for _, ev := range events {
				kinds[ev.Kind]++
			}
			Expect(kinds[domain.EventLaunch]).To(BeNumerically(">=", 3))
			Expect(kinds[domain.EventExit]).To(BeNumerically(">=", 3))
		})
	})

	Context("when the exit policy is exit", func() {
		It("should stop after the first exit without entering the desktop", func() {
			Expect(app.CreateExiting(0)).To(Succeed())

			cancel, done := start(build("exit", 0, ""))
			defer cancel()

			Eventually(done, 5*time.Second).Should(BeClosed())
			Expect(app.Launches()).To(Equal(1))
			Consistently(desktop.Entries, 200*time.Millisecond).Should(BeZero())
			_, err := os.Stat(socket)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Context("when the exit policy is enter-desktop", func() {
		It("should enter the desktop once the app exits", func() {
			Expect(app.CreateExiting(1)).To(Succeed())

			cancel, done := start(build("explorer", 0, ""))
			defer cancel()

			Eventually(done, 5*time.Second).Should(BeClosed())
			Eventually(desktop.Entries, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
		})
	})

	Context("when the channel receives shutdown while the app runs", func() {
		It("should stop the app before requesting the power transition", func() {
			Expect(app.CreateLongRunning()).To(Succeed())

			cancel, done := start(build("restart", 5*time.Second, ""))
			defer func() {
				cancel()
				Eventually(done, 10*time.Second).Should(BeClosed())
			}()

			Eventually(app.Launches, 5*time.Second, 20*time.Millisecond).Should(Equal(1))
			Eventually(func() error { return send("shutdown") }, 2*time.Second, 20*time.Millisecond).Should(Succeed())

			Eventually(strategy.Modes, 5*time.Second, 20*time.Millisecond).Should(Equal([]domain.PowerMode{domain.PowerShutdown}))
			strategy.mu.Lock()
			Expect(strategy.appTerminated).To(Equal([]bool{true}))
			strategy.mu.Unlock()
		})
	})

	Context("when the channel receives exitapp", func() {
		It("should kill the app and let the exit policy decide", func() {
			Expect(app.CreateLongRunning()).To(Succeed())

			cancel, done := start(build("enter-desktop", 0, ""))
			defer cancel()

			Eventually(app.Launches, 5*time.Second, 20*time.Millisecond).Should(Equal(1))
			Eventually(func() error { return send("exitapp") }, 2*time.Second, 20*time.Millisecond).Should(Succeed())

			Eventually(done, 5*time.Second).Should(BeClosed())
			Eventually(desktop.Entries, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
			Expect(app.Terminated()).To(BeFalse(), "exitapp kills without SIGTERM")
		})
	})

	Context("when unrecognized text arrives", func() {
		It("should leave the app and the host alone", func() {
			Expect(app.CreateLongRunning()).To(Succeed())

			cancel, done := start(build("exit", 0, ""))
			defer func() {
				cancel()
				Eventually(done, 10*time.Second).Should(BeClosed())
			}()

			Eventually(app.Launches, 5*time.Second, 20*time.Millisecond).Should(Equal(1))
			Eventually(func() error { return send("SHUTDOWN NOW") }, 2*time.Second, 20*time.Millisecond).Should(Succeed())
			Expect(send("poweroff")).To(Succeed())

			Consistently(strategy.Modes, 300*time.Millisecond).Should(BeEmpty())
			Expect(done).NotTo(BeClosed())
			Expect(app.Terminated()).To(BeFalse())
		})
	})
})
