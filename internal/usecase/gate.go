// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/clock"
	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DefaultPollInterval is the sleep between gate iterations.
const DefaultPollInterval = 10 * time.Millisecond

// GateConfig holds maintenance gate configuration.
type GateConfig struct {
	Enabled      bool
	Window       time.Duration // overall detection window
	Hold         time.Duration // required press duration
	HitBox       domain.HitBox
	PollInterval time.Duration
}

// MaintenanceGate gives a person at the device a short window at boot to
// force maintenance mode by holding an invisible corner hit-box.
type MaintenanceGate struct {
	config   GateConfig
	overlays domain.OverlayFactory
	clock    clock.Clock
	logger   *zap.Logger
}

// NewMaintenanceGate creates a new maintenance gate.
func NewMaintenanceGate(
	config GateConfig,
	overlays domain.OverlayFactory,
	clk clock.Clock,
	logger *zap.Logger,
) *MaintenanceGate {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &MaintenanceGate{
		config:   config,
		overlays: overlays,
		clock:    clk,
		logger:   logger,
	}
}

// pressState is the gate's per-run state, handed explicitly to the event
// handler.
type pressState struct {
	hold       time.Duration
	pressed    bool
	pressStart time.Time
	completed  bool // a release arrived after a full hold
}

// handle applies one pointer event. Event timestamps are used when present
// so that a release batched into a later poll is measured where it happened.
// Capture loss counts as a release that never completes a hold.
func (s *pressState) handle(ev domain.PointerEvent, now time.Time) {
	at := ev.At
	if at.IsZero() || at.After(now) {
		at = now
	}

	switch ev.Kind {
	case domain.PointerPress:
		if !s.pressed {
			s.pressed = true
			s.pressStart = at
		}
	case domain.PointerRelease:
		if s.pressed && at.Sub(s.pressStart) >= s.hold {
			s.completed = true
		}
		s.release()
	case domain.PointerCaptureLost:
		s.release()
	}
}

func (s *pressState) release() {
	s.pressed = false
	s.pressStart = time.Time{}
}

func (s *pressState) triggered(now time.Time) bool {
	return s.completed || (s.pressed && now.Sub(s.pressStart) >= s.hold)
}

// Run blocks for at most the detection window and reports whether the
// hit-box was held long enough. Any failure to create the overlay fails
// closed (not triggered).
func (g *MaintenanceGate) Run(ctx context.Context) domain.MaintenanceOutcome {
	if !g.config.Enabled {
		return domain.MaintenanceNotTriggered
	}

	overlay, err := g.overlays.Open(g.config.HitBox)
	if err != nil {
		if !errors.Is(err, domain.ErrOverlayUnavailable) {
			err = errors.Join(domain.ErrOverlayUnavailable, err)
		}
		g.logger.Warn("maintenance overlay not created, continuing normal boot", zap.Error(err))
		return domain.MaintenanceNotTriggered
	}
	defer func() {
		if err := overlay.Close(); err != nil {
			g.logger.Debug("failed to close maintenance overlay", zap.Error(err))
		}
	}()

	g.logger.Debug("maintenance window open",
		zap.Duration("window", g.config.Window),
		zap.Duration("hold", g.config.Hold),
		zap.String("corner", string(g.config.HitBox.Corner)))

	state := pressState{hold: g.config.Hold}
	start := g.clock.Now()
	for now := start; now.Sub(start) < g.config.Window; now = g.clock.Now() {
		if ctx.Err() != nil {
			return domain.MaintenanceNotTriggered
		}

		for _, ev := range overlay.Poll() {
			state.handle(ev, now)
		}

		if state.triggered(now) {
			g.logger.Info("maintenance: corner hold triggered")
			return domain.MaintenanceTriggered
		}

		g.clock.Sleep(g.config.PollInterval)
	}

	return domain.MaintenanceNotTriggered
}
