//go:build !linux

package infra

import (
	"fmt"
	"runtime"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// Open always fails outside Linux; the gate then fails closed.
func (f *EvdevOverlayFactory) Open(box domain.HitBox) (domain.Overlay, error) {
	return nil, fmt.Errorf("%w: evdev not supported on %s", domain.ErrOverlayUnavailable, runtime.GOOS)
}
