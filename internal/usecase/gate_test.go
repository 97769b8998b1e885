package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/clock"
	"github.com/eliteGoblin/kioskd/internal/domain"
)

var gateEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// scriptedOverlay delivers events once the shared clock passes their time.
type scriptedOverlay struct {
	clock  clock.Clock
	events []domain.PointerEvent
	closed bool
}

func (o *scriptedOverlay) Poll() []domain.PointerEvent {
	now := o.clock.Now()
	var out []domain.PointerEvent
	for len(o.events) > 0 && !o.events[0].At.After(now) {
		out = append(out, o.events[0])
		o.events = o.events[1:]
	}
	return out
}

func (o *scriptedOverlay) Close() error {
	o.closed = true
	return nil
}

// mockOverlayFactory implements domain.OverlayFactory for testing
type mockOverlayFactory struct {
	overlay *scriptedOverlay
	openErr error
	opened  []domain.HitBox
}

func (f *mockOverlayFactory) Open(box domain.HitBox) (domain.Overlay, error) {
	f.opened = append(f.opened, box)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.overlay, nil
}

func press(at time.Duration) domain.PointerEvent {
	return domain.PointerEvent{Kind: domain.PointerPress, At: gateEpoch.Add(at)}
}

func release(at time.Duration) domain.PointerEvent {
	return domain.PointerEvent{Kind: domain.PointerRelease, At: gateEpoch.Add(at)}
}

func captureLost(at time.Duration) domain.PointerEvent {
	return domain.PointerEvent{Kind: domain.PointerCaptureLost, At: gateEpoch.Add(at)}
}

func newTestGate(events ...domain.PointerEvent) (*MaintenanceGate, *mockOverlayFactory, *clock.Stepping) {
	clk := clock.NewStepping(gateEpoch)
	factory := &mockOverlayFactory{overlay: &scriptedOverlay{clock: clk, events: events}}
	gate := NewMaintenanceGate(GateConfig{
		Enabled: true,
		Window:  5 * time.Second,
		Hold:    1500 * time.Millisecond,
		HitBox:  domain.HitBox{Corner: domain.CornerTopLeft, Size: 120},
	}, factory, clk, zap.NewNop())
	return gate, factory, clk
}

func TestGate_ShortHoldsNeverTrigger(t *testing.T) {
	for _, d := range []time.Duration{0, 10 * time.Millisecond, 735 * time.Millisecond, 1490 * time.Millisecond, 1499 * time.Millisecond} {
		t.Run(fmt.Sprint(d), func(t *testing.T) {
			gate, factory, _ := newTestGate(press(200*time.Millisecond), release(200*time.Millisecond+d))

			assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
			assert.True(t, factory.overlay.closed)
		})
	}
}

func TestGate_FullHoldTriggers(t *testing.T) {
	for _, d := range []time.Duration{1500 * time.Millisecond, 1505 * time.Millisecond, 2 * time.Second} {
		t.Run(fmt.Sprint(d), func(t *testing.T) {
			gate, factory, clk := newTestGate(press(200*time.Millisecond), release(200*time.Millisecond+d))

			assert.Equal(t, domain.MaintenanceTriggered, gate.Run(context.Background()))
			assert.True(t, factory.overlay.closed)
			assert.Less(t, clk.Now().Sub(gateEpoch), 5*time.Second, "gate returns as soon as the hold completes")
		})
	}
}

func TestGate_HeldWithoutReleaseTriggers(t *testing.T) {
	gate, _, clk := newTestGate(press(time.Second))

	assert.Equal(t, domain.MaintenanceTriggered, gate.Run(context.Background()))
	elapsed := clk.Now().Sub(gateEpoch)
	assert.GreaterOrEqual(t, elapsed, 2500*time.Millisecond)
	assert.Less(t, elapsed, 2600*time.Millisecond)
}

func TestGate_NoPressReturnsAfterWindow(t *testing.T) {
	gate, factory, clk := newTestGate()

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
	assert.True(t, factory.overlay.closed)

	elapsed := clk.Now().Sub(gateEpoch)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.LessOrEqual(t, elapsed, 5*time.Second+DefaultPollInterval)
	require.Len(t, factory.opened, 1)
	assert.Equal(t, domain.HitBox{Corner: domain.CornerTopLeft, Size: 120}, factory.opened[0])
}

func TestGate_CaptureLostMidPressResets(t *testing.T) {
	gate, _, _ := newTestGate(
		press(100*time.Millisecond),
		captureLost(1400*time.Millisecond),
		press(3600*time.Millisecond),
		release(4500*time.Millisecond),
	)

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
}

func TestGate_CaptureLostAtHoldBoundaryDoesNotTrigger(t *testing.T) {
	gate, _, _ := newTestGate(
		press(1*time.Second),
		captureLost(2500*time.Millisecond),
	)

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
}

func TestGate_RepressAfterEarlyReleaseStartsNewHold(t *testing.T) {
	gate, _, _ := newTestGate(
		press(100*time.Millisecond),
		release(1*time.Second),
		press(1200*time.Millisecond),
		release(2800*time.Millisecond),
	)

	assert.Equal(t, domain.MaintenanceTriggered, gate.Run(context.Background()))
}

func TestGate_HoldPastWindowDoesNotTrigger(t *testing.T) {
	gate, _, _ := newTestGate(press(4 * time.Second))

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
}

func TestGate_OverlayUnavailableFailsClosed(t *testing.T) {
	for _, err := range []error{domain.ErrOverlayUnavailable, errors.New("no input devices")} {
		gate, factory, clk := newTestGate()
		factory.openErr = err

		assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
		assert.Zero(t, clk.Slept(), "no waiting without an overlay")
	}
}

func TestGate_DisabledDoesNothing(t *testing.T) {
	gate, factory, _ := newTestGate(press(0))
	gate.config.Enabled = false

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
	assert.Empty(t, factory.opened)
}

func TestGate_CanceledContextStopsEarly(t *testing.T) {
	gate, factory, _ := newTestGate(press(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(ctx))
	assert.True(t, factory.overlay.closed)
}

func TestGate_RealClockRespectsWindow(t *testing.T) {
	factory := &mockOverlayFactory{overlay: &scriptedOverlay{clock: clock.Real()}}
	gate := NewMaintenanceGate(GateConfig{
		Enabled: true,
		Window:  100 * time.Millisecond,
		Hold:    50 * time.Millisecond,
	}, factory, clock.Real(), zap.NewNop())

	start := time.Now()
	assert.Equal(t, domain.MaintenanceNotTriggered, gate.Run(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}
